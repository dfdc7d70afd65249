package config

import (
	"context"
)

// Loader is the interface for a format-specific configuration loader.
type Loader interface {
	// Load reads every configuration file found under paths, translates it
	// into the format-agnostic model and merges the results.
	Load(ctx context.Context, paths ...string) (*Model, error)
}
