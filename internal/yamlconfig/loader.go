// Package yamlconfig provides the YAML implementation of config.Loader.
// String values may reference the environment as ${env.NAME}.
package yamlconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/unicesi/amelia-sub000/internal/config"
	"github.com/unicesi/amelia-sub000/internal/ctxlog"
	"github.com/unicesi/amelia-sub000/internal/fsutil"
	"gopkg.in/yaml.v3"
)

var envRef = regexp.MustCompile(`\$\{env\.([A-Za-z_][A-Za-z0-9_]*)\}`)

type document struct {
	Deployment         string      `yaml:"deployment"`
	HostsFile          string      `yaml:"hosts_file"`
	ParallelSubsystems bool        `yaml:"parallel_subsystems"`
	Hosts              []hostDoc   `yaml:"hosts"`
	Subsystems         []subsystem `yaml:"subsystems"`
	Actions            []actionDoc `yaml:"actions"`
}

type hostDoc struct {
	Name         string `yaml:"name"`
	Hostname     string `yaml:"hostname"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	SessionPort  int    `yaml:"session_port"`
	TransferPort int    `yaml:"transfer_port"`
}

type subsystem struct {
	Name      string      `yaml:"name"`
	DependsOn []string    `yaml:"depends_on"`
	Actions   []actionDoc `yaml:"actions"`
}

type actionDoc struct {
	Name          string            `yaml:"name"`
	Kind          string            `yaml:"kind"`
	Hosts         []string          `yaml:"hosts"`
	DependsOn     []string          `yaml:"depends_on"`
	Params        map[string]string `yaml:"params"`
	Release       string            `yaml:"release"`
	Completion    string            `yaml:"completion"`
	ErrorPatterns []string          `yaml:"error_patterns"`
	Timeout       string            `yaml:"timeout"`
	Execution     bool              `yaml:"execution"`
	OnSuccess     string            `yaml:"on_success"`
	OnFailure     string            `yaml:"on_failure"`
}

// Loader is the YAML implementation of config.Loader.
type Loader struct {
	lookupEnv func(string) (string, bool)
}

var _ config.Loader = (*Loader)(nil)

// NewLoader creates a new YAML configuration loader.
func NewLoader() *Loader {
	return &Loader{lookupEnv: os.LookupEnv}
}

// Load parses every .yaml and .yml file under paths and merges them.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	files, err := findFiles(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .yaml files found in %v", paths)
	}
	logger.Debug("Discovered YAML files.", "count", len(files))

	model := config.NewModel()
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		part, err := l.parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode YAML file %s: %w", file, err)
		}
		model.Merge(part)
	}
	logger.Debug("YAML loading complete.", "hosts", len(model.Hosts), "subsystems", len(model.Subsystems), "actions", model.Actions())
	return model, nil
}

func (l *Loader) parse(data []byte) (*config.Model, error) {
	var missing []string
	data = envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := string(envRef.FindSubmatch(ref)[1])
		v, ok := l.lookupEnv(name)
		if !ok {
			missing = append(missing, name)
		}
		return []byte(v)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("undefined environment variables: %v", missing)
	}

	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return translate(&doc)
}

func translate(doc *document) (*config.Model, error) {
	m := config.NewModel()
	m.Name = doc.Deployment
	m.HostsFile = doc.HostsFile
	m.ParallelSubsystems = doc.ParallelSubsystems

	for _, h := range doc.Hosts {
		host := &config.Host{
			Name:         h.Name,
			Hostname:     h.Hostname,
			User:         h.User,
			Password:     h.Password,
			SessionPort:  h.SessionPort,
			TransferPort: h.TransferPort,
		}
		if host.Hostname == "" {
			host.Hostname = h.Name
		}
		if host.SessionPort == 0 {
			host.SessionPort = 22
		}
		if host.TransferPort == 0 {
			host.TransferPort = 22
		}
		m.Hosts = append(m.Hosts, host)
	}

	add := func(name string, deps []string, actions []actionDoc) error {
		sub := m.Subsystem(name)
		sub.DependsOn = append(sub.DependsOn, deps...)
		for _, a := range actions {
			act, err := translateAction(a)
			if err != nil {
				return err
			}
			sub.Actions = append(sub.Actions, act)
		}
		return nil
	}
	for _, s := range doc.Subsystems {
		if err := add(s.Name, s.DependsOn, s.Actions); err != nil {
			return nil, err
		}
	}
	if len(doc.Actions) > 0 {
		if err := add(config.DefaultSubsystem, nil, doc.Actions); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func translateAction(a actionDoc) (*config.Action, error) {
	if a.Name == "" || a.Kind == "" {
		return nil, fmt.Errorf("actions need a name and a kind (got name %q, kind %q)", a.Name, a.Kind)
	}
	act := &config.Action{
		Kind:          a.Kind,
		Name:          a.Name,
		Hosts:         a.Hosts,
		DependsOn:     a.DependsOn,
		Params:        a.Params,
		Release:       a.Release,
		Completion:    a.Completion,
		ErrorPatterns: a.ErrorPatterns,
		Execution:     a.Execution,
		OnSuccess:     a.OnSuccess,
		OnFailure:     a.OnFailure,
	}
	if act.Params == nil {
		act.Params = map[string]string{}
	}
	if a.Timeout != "" {
		d, err := time.ParseDuration(a.Timeout)
		if err != nil {
			return nil, fmt.Errorf("action %q: invalid timeout %q: %w", a.Name, a.Timeout, err)
		}
		act.Timeout = d
	}
	return act, nil
}

func findFiles(paths []string) ([]string, error) {
	return fsutil.DescriptionFiles(paths, ".yaml", ".yml")
}
