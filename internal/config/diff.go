package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; RestartRequired
// lists the rest so the operator can be told.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PipelineChanged bool
	NewPipeline     PipelineConfig

	// ModelsChanged is true if any model was added, removed, reordered or
	// edited. Order matters because the first model with a key wins.
	ModelsChanged bool
	ModelChanges  []ModelDiff

	// RestartRequired names settings that changed but only take effect after
	// a restart (e.g., "server.listen_addr").
	RestartRequired []string
}

// ModelDiff describes what changed for a single model between two configs.
type ModelDiff struct {
	Name              string
	Added             bool
	Removed           bool
	CredentialChanged bool
	EndpointChanged   bool
}

// Empty reports whether d records no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PipelineChanged && !d.ModelsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Pipeline != new.Pipeline {
		d.PipelineChanged = true
		d.NewPipeline = new.Pipeline
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.LogFile != new.Server.LogFile {
		d.RestartRequired = append(d.RestartRequired, "server.log_file")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.MCP != new.MCP {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}

	oldModels := make(map[string]ModelEntry, len(old.Models))
	for _, m := range old.Models {
		oldModels[m.Name] = m
	}
	newModels := make(map[string]ModelEntry, len(new.Models))
	for _, m := range new.Models {
		newModels[m.Name] = m
	}

	for _, om := range old.Models {
		nm, ok := newModels[om.Name]
		if !ok {
			d.ModelChanges = append(d.ModelChanges, ModelDiff{Name: om.Name, Removed: true})
			continue
		}
		md := ModelDiff{
			Name:              om.Name,
			CredentialChanged: om.APIKey != nm.APIKey,
			EndpointChanged: om.BaseURL != nm.BaseURL || om.Model != nm.Model ||
				om.IsOpenAI != nm.IsOpenAI || om.Provider != nm.Provider,
		}
		if md.CredentialChanged || md.EndpointChanged || om.DefaultColor != nm.DefaultColor {
			d.ModelChanges = append(d.ModelChanges, md)
		}
	}
	for _, nm := range new.Models {
		if _, ok := oldModels[nm.Name]; !ok {
			d.ModelChanges = append(d.ModelChanges, ModelDiff{Name: nm.Name, Added: true})
		}
	}

	d.ModelsChanged = len(d.ModelChanges) > 0 || !slices.EqualFunc(old.Models, new.Models,
		func(a, b ModelEntry) bool { return a.Name == b.Name })

	return d
}
