package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// DefaultSubsystem holds the actions declared outside of any subsystem.
const DefaultSubsystem = "main"

// ErrInvalidModel is returned by Validate.
var ErrInvalidModel = errors.New("invalid deployment description")

// Model is the unified, format-agnostic representation of a deployment.
type Model struct {
	Name               string
	HostsFile          string
	ParallelSubsystems bool
	Hosts              []*Host
	Subsystems         []*Subsystem
}

// Host declares a target inline.
type Host struct {
	Name         string
	Hostname     string
	User         string
	Password     string
	SessionPort  int
	TransferPort int
}

// Subsystem is a named group of actions.
type Subsystem struct {
	Name      string
	DependsOn []string
	Actions   []*Action
}

// Action declares one action of a registered kind.
type Action struct {
	Kind          string
	Name          string
	Hosts         []string
	DependsOn     []string
	Params        map[string]string
	Release       string
	Completion    string
	ErrorPatterns []string
	Timeout       time.Duration
	Execution     bool
	OnSuccess     string
	OnFailure     string
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{}
}

// Subsystem returns the subsystem called name, creating it when missing.
func (m *Model) Subsystem(name string) *Subsystem {
	for _, s := range m.Subsystems {
		if s.Name == name {
			return s
		}
	}
	s := &Subsystem{Name: name}
	m.Subsystems = append(m.Subsystems, s)
	return s
}

// Merge adds the content of other to m. Scalar settings in other override
// those of m when set.
func (m *Model) Merge(other *Model) {
	if other.Name != "" {
		m.Name = other.Name
	}
	if other.HostsFile != "" {
		m.HostsFile = other.HostsFile
	}
	m.ParallelSubsystems = m.ParallelSubsystems || other.ParallelSubsystems
	m.Hosts = append(m.Hosts, other.Hosts...)
	for _, s := range other.Subsystems {
		dst := m.Subsystem(s.Name)
		dst.DependsOn = append(dst.DependsOn, s.DependsOn...)
		dst.Actions = append(dst.Actions, s.Actions...)
	}
}

// Actions returns the number of declared actions.
func (m *Model) Actions() int {
	n := 0
	for _, s := range m.Subsystems {
		n += len(s.Actions)
	}
	return n
}

// Validate checks the model for problems that do not depend on the action
// kinds: duplicate names, unknown hosts and dependencies, and patterns that
// do not compile. knownHosts holds the names of hosts declared outside the
// model, such as in a host list file.
func (m *Model) Validate(knownHosts ...string) error {
	var errs []error
	hosts := make(map[string]bool)
	for _, h := range knownHosts {
		hosts[h] = true
	}
	for _, h := range m.Hosts {
		if hosts[h.Name] {
			errs = append(errs, fmt.Errorf("host %q declared twice", h.Name))
		}
		hosts[h.Name] = true
		if h.User == "" {
			errs = append(errs, fmt.Errorf("host %q: user is required", h.Name))
		}
	}

	subsystems := make(map[string]bool)
	for _, s := range m.Subsystems {
		subsystems[s.Name] = true
	}
	actions := make(map[string]string)
	for _, s := range m.Subsystems {
		for _, dep := range s.DependsOn {
			if !subsystems[dep] {
				errs = append(errs, fmt.Errorf("subsystem %q depends on unknown subsystem %q", s.Name, dep))
			}
		}
		for _, a := range s.Actions {
			if owner, ok := actions[a.Name]; ok {
				errs = append(errs, fmt.Errorf("action %q declared in both %q and %q", a.Name, owner, s.Name))
			}
			actions[a.Name] = s.Name
			if len(a.Hosts) == 0 {
				errs = append(errs, fmt.Errorf("action %q: at least one host is required", a.Name))
			}
			for _, h := range a.Hosts {
				if !hosts[h] {
					errs = append(errs, fmt.Errorf("action %q runs on unknown host %q", a.Name, h))
				}
			}
			for _, p := range append([]string{a.Release, a.Completion}, a.ErrorPatterns...) {
				if _, err := regexp.Compile(p); err != nil {
					errs = append(errs, fmt.Errorf("action %q: invalid pattern %q: %v", a.Name, p, err))
				}
			}
		}
	}
	for _, s := range m.Subsystems {
		for _, a := range s.Actions {
			for _, dep := range a.DependsOn {
				owner, ok := actions[dep]
				switch {
				case !ok:
					errs = append(errs, fmt.Errorf("action %q depends on unknown action %q", a.Name, dep))
				case owner != s.Name:
					errs = append(errs, fmt.Errorf("action %q depends on %q from another subsystem; use subsystem dependencies instead", a.Name, dep))
				}
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidModel, errors.Join(errs...))
	}
	return nil
}
