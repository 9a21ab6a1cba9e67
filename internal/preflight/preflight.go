package preflight

import (
	"context"

	"tillpoint/internal/config"
	"tillpoint/internal/devices"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes every preflight check for cfg. scale may be nil when no
// scale is selected in settings.
func RunAll(ctx context.Context, cfg *config.Config, dir *devices.Directory, scale *devices.Descriptor) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckBindAvailable(cfg.Paths.APIBind),
	}
	if dir != nil {
		results = append(results, CheckScalePort(ctx, dir, scale))
	}
	return results
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}
