package hclconfig

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/unicesi/amelia-sub000/internal/config"
	"github.com/unicesi/amelia-sub000/internal/ctxlog"
	"github.com/unicesi/amelia-sub000/internal/fsutil"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct {
	environ func() []string
}

var _ config.Loader = (*Loader)(nil)

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{environ: os.Environ}
}

// Load parses every .hcl file under paths and merges them into one model.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := findFiles(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl files found in %s", strings.Join(paths, ", "))
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	parser := hclparse.NewParser()
	evalCtx := l.evalContext()
	model := config.NewModel()

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, evalCtx, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		part, err := translate(&root)
		if err != nil {
			return nil, fmt.Errorf("in %s: %w", file, err)
		}
		model.Merge(part)
	}

	logger.Debug("HCL loading complete.", "hosts", len(model.Hosts), "subsystems", len(model.Subsystems), "actions", model.Actions())
	return model, nil
}

// evalContext exposes the environment as `env` and a few string functions.
func (l *Loader) evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range l.environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && k != "" {
			env[k] = cty.StringVal(v)
		}
	}
	envVal := cty.EmptyObjectVal
	if len(env) > 0 {
		envVal = cty.ObjectVal(env)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": envVal},
		Functions: map[string]function.Function{
			"format": stdlib.FormatFunc,
			"join":   stdlib.JoinFunc,
			"lower":  stdlib.LowerFunc,
			"upper":  stdlib.UpperFunc,
		},
	}
}

func findFiles(paths []string) ([]string, error) {
	return fsutil.DescriptionFiles(paths, ".hcl")
}

func translate(root *fileRoot) (*config.Model, error) {
	m := config.NewModel()
	for _, d := range root.Deployments {
		m.Name = d.Name
		if d.HostsFile != nil {
			m.HostsFile = *d.HostsFile
		}
		if d.ParallelSubsystems != nil {
			m.ParallelSubsystems = *d.ParallelSubsystems
		}
	}
	for _, h := range root.Hosts {
		m.Hosts = append(m.Hosts, translateHost(h))
	}
	for _, s := range root.Subsystems {
		sub := m.Subsystem(s.Name)
		sub.DependsOn = append(sub.DependsOn, s.DependsOn...)
		for _, a := range s.Actions {
			act, err := translateAction(a)
			if err != nil {
				return nil, err
			}
			sub.Actions = append(sub.Actions, act)
		}
	}
	if len(root.Actions) > 0 {
		sub := m.Subsystem(config.DefaultSubsystem)
		for _, a := range root.Actions {
			act, err := translateAction(a)
			if err != nil {
				return nil, err
			}
			sub.Actions = append(sub.Actions, act)
		}
	}
	return m, nil
}

func translateHost(h *hostBlock) *config.Host {
	host := &config.Host{
		Name:         h.Name,
		Hostname:     h.Name,
		User:         h.User,
		SessionPort:  22,
		TransferPort: 22,
	}
	if h.Hostname != nil {
		host.Hostname = *h.Hostname
	}
	if h.Password != nil {
		host.Password = *h.Password
	}
	if h.SessionPort != nil {
		host.SessionPort = *h.SessionPort
	}
	if h.TransferPort != nil {
		host.TransferPort = *h.TransferPort
	}
	return host
}

func translateAction(a *actionBlock) (*config.Action, error) {
	act := &config.Action{
		Kind:          a.Kind,
		Name:          a.Name,
		Hosts:         a.Hosts,
		DependsOn:     a.DependsOn,
		Params:        a.Params,
		ErrorPatterns: a.ErrorPatterns,
		Release:       deref(a.Release),
		Completion:    deref(a.Completion),
		OnSuccess:     deref(a.OnSuccess),
		OnFailure:     deref(a.OnFailure),
	}
	if act.Params == nil {
		act.Params = map[string]string{}
	}
	if a.Execution != nil {
		act.Execution = *a.Execution
	}
	if a.Timeout != nil {
		d, err := time.ParseDuration(*a.Timeout)
		if err != nil {
			return nil, fmt.Errorf("action %q: invalid timeout %q: %w", a.Name, *a.Timeout, err)
		}
		act.Timeout = d
	}
	return act, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
