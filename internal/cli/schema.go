package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/notestream/pkg/note"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema model replies must follow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), note.ResponseSchemaJSON())
			return err
		},
	}
}
