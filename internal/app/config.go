package app

import (
	"errors"
	"fmt"
)

// Configuration formats accepted by Config.Format.
const (
	FormatHCL  = "hcl"
	FormatYAML = "yaml"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ConfigPaths []string // deployment description files or directories
	Format      string   // hcl, yaml or empty to detect from the paths
	HostsFile   string   // overrides the description's hosts_file
	KnownHosts  string   // known_hosts file; empty disables host key checks

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	NotifyURL       string

	StopPrevious       bool
	KeepRunning        bool
	ParallelSubsystems bool
}

// NewConfig validates cfg and returns a copy of it.
func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.ConfigPaths) == 0 {
		return nil, errors.New("at least one configuration path is required")
	}
	switch cfg.Format {
	case "", FormatHCL, FormatYAML:
	default:
		return nil, fmt.Errorf("unknown configuration format %q", cfg.Format)
	}
	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "", "text", "json":
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("invalid healthcheck port %d", cfg.HealthcheckPort)
	}
	return &cfg, nil
}
