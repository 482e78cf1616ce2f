package note

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks b against the content block shape rules and returns every
// violation joined into one error, or nil.
//
//   - the kind is known and the content list is non-empty;
//   - text items carry content and a valid width;
//   - chart items carry a supported chart type, at least one data row,
//     a config object and a heading;
//   - marquee items carry at least one phrase;
//   - backgrounds, when set, are valid levels (never 2).
func (b Block) Validate() error {
	var errs []error

	if b.Kind == "" {
		return errors.New("block: kind is required")
	}
	if !b.Kind.IsValid() {
		return fmt.Errorf("block: unknown kind %q", b.Kind)
	}
	if b.Len() == 0 {
		return fmt.Errorf("block %s: content must not be empty", b.Kind)
	}

	for i, it := range b.Text {
		if err := it.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("block text item %d: %w", i, err))
		}
	}
	for i, it := range b.Charts {
		if err := it.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("block chart item %d: %w", i, err))
		}
	}
	for i, it := range b.Marquees {
		if err := it.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("block marquee item %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks a text item.
func (t TextItem) Validate() error {
	var errs []error
	if strings.TrimSpace(t.Content) == "" {
		errs = append(errs, errors.New("content is required"))
	}
	if t.Width == "" {
		errs = append(errs, errors.New("width is required"))
	} else if !t.Width.IsValid() {
		errs = append(errs, fmt.Errorf("width %q is not one of %v", t.Width, Widths))
	}
	errs = append(errs, validateBackground(t.Background))
	return errors.Join(errs...)
}

// Validate checks a chart item.
func (c ChartItem) Validate() error {
	var errs []error
	if !c.ChartType.IsValid() {
		errs = append(errs, fmt.Errorf("chartType %q must be one of area, bar, line, pie", c.ChartType))
	}
	if len(c.ChartData) == 0 {
		errs = append(errs, errors.New("chartData must not be empty"))
	}
	for i, row := range c.ChartData {
		for k, v := range row {
			if !isScalar(v) {
				errs = append(errs, fmt.Errorf("chartData[%d].%s: value must be a string or number, got %T", i, k, v))
			}
		}
	}
	if c.ChartConfig == nil {
		errs = append(errs, errors.New("chartConfig is required"))
	}
	if strings.TrimSpace(c.Heading) == "" {
		errs = append(errs, errors.New("heading is required"))
	}
	if c.Width != "" && !c.Width.IsValid() {
		errs = append(errs, fmt.Errorf("width %q is not one of %v", c.Width, Widths))
	}
	errs = append(errs, validateBackground(c.Background))
	return errors.Join(errs...)
}

// Validate checks a marquee item.
func (m MarqueeItem) Validate() error {
	var errs []error
	if len(m.Content) == 0 {
		errs = append(errs, errors.New("content must list at least one phrase"))
	}
	errs = append(errs, validateBackground(m.Background))
	return errors.Join(errs...)
}

// ValidateBlocks validates every block and prefixes errors with the block
// index.
func ValidateBlocks(blocks []Block) error {
	var errs []error
	for i, b := range blocks {
		if err := b.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("contentBlocks[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func validateBackground(b *Background) error {
	if b == nil {
		return nil
	}
	if *b == 2 {
		return errors.New("background 2 is reserved")
	}
	if !b.IsValid() {
		return fmt.Errorf("background %v is not one of %v", float64(*b), Backgrounds)
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, json.Number, float64, float32, int, int32, int64, uint, uint32, uint64:
		return true
	}
	return false
}
