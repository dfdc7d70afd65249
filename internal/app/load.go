package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/unicesi/amelia-sub000/internal/config"
	"github.com/unicesi/amelia-sub000/internal/ctxlog"
	"github.com/unicesi/amelia-sub000/internal/hclconfig"
	"github.com/unicesi/amelia-sub000/internal/target"
	"github.com/unicesi/amelia-sub000/internal/yamlconfig"
)

// newLoader returns the loader for format. An empty format is detected from
// the paths: any .yaml or .yml file selects YAML, anything else HCL.
func newLoader(format string, paths []string) config.Loader {
	if format == "" {
		format = FormatHCL
		for _, p := range paths {
			switch strings.ToLower(filepath.Ext(p)) {
			case ".yaml", ".yml":
				format = FormatYAML
			}
		}
	}
	if format == FormatYAML {
		return yamlconfig.NewLoader()
	}
	return hclconfig.NewLoader()
}

// loadModel loads the deployment description and the host list it refers
// to, and validates both against each other.
func (a *App) loadModel(ctx context.Context, loader config.Loader) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading deployment description...", "paths", a.config.ConfigPaths)

	model, err := loader.Load(ctx, a.config.ConfigPaths...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	hostsFile := model.HostsFile
	if a.config.HostsFile != "" {
		hostsFile = a.config.HostsFile
	}
	var known []string
	if hostsFile != "" {
		hosts, err := target.LoadHosts(hostsFile)
		if err != nil {
			return fmt.Errorf("failed to load hosts: %w", err)
		}
		for _, h := range hosts {
			known = append(known, h.Name())
		}
		a.fileHosts = hosts
		logger.Debug("Hosts loaded.", "file", hostsFile, "count", len(hosts))
	}

	if err := model.Validate(known...); err != nil {
		return err
	}
	a.model = model
	logger.Debug("Configuration loaded and translated into unified model.", "subsystems", len(model.Subsystems), "actions", model.Actions())
	return nil
}
