package app

import (
	"fmt"
	"sort"

	"github.com/unicesi/amelia-sub000/internal/controller"
	"github.com/unicesi/amelia-sub000/internal/dag"
	"github.com/unicesi/amelia-sub000/internal/subsystem"
	"github.com/unicesi/amelia-sub000/internal/target"
)

// buildTargets creates one target per host of the host list and per host
// declared in the description.
func (a *App) buildTargets() map[string]*target.Target {
	targets := make(map[string]*target.Target, len(a.fileHosts)+len(a.model.Hosts))
	for _, t := range a.fileHosts {
		targets[t.Name()] = t
	}
	for _, h := range a.model.Hosts {
		hostname := h.Hostname
		if hostname == "" {
			hostname = h.Name
		}
		t := target.New(hostname, h.User, h.Password)
		t.Identifier = h.Name
		if h.SessionPort > 0 {
			t.SessionPort = h.SessionPort
		}
		if h.TransferPort > 0 {
			t.TransferPort = h.TransferPort
		}
		targets[h.Name] = t
	}
	return targets
}

// sortedTargets returns the targets ordered by name.
func sortedTargets(targets map[string]*target.Target) []*target.Target {
	out := make([]*target.Target, 0, len(targets))
	for _, t := range targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// buildDeployment turns the model into a deployment of subsystems, each
// running its actions on its own controller. Subsystems share targets, so
// controllers never tear them down, not even on failure; the app does it
// once the whole deployment is over.
func (a *App) buildDeployment(targets map[string]*target.Target, observers ...func(dag.Event)) (*subsystem.Deployment, error) {
	ctrlOpts := []controller.Option{controller.WithSharedTargets(true)}
	depOpts := []subsystem.Option{
		subsystem.WithParallelSubsystems(a.config.ParallelSubsystems || a.model.ParallelSubsystems),
	}
	for _, fn := range observers {
		ctrlOpts = append(ctrlOpts, controller.WithObserver(fn))
		depOpts = append(depOpts, subsystem.WithObserver(fn))
	}

	name := a.model.Name
	if name == "" {
		name = "deployment"
	}
	d := subsystem.NewDeployment(name, depOpts...)

	built := make(map[string]*subsystem.Subsystem, len(a.model.Subsystems))
	for _, s := range a.model.Subsystems {
		actions, err := a.registry.BuildAll(s.Actions, targets)
		if err != nil {
			return nil, fmt.Errorf("subsystem %s: %w", s.Name, err)
		}
		built[s.Name] = subsystem.FromActions(s.Name, a.dialer, actions, ctrlOpts...)
	}
	for _, s := range a.model.Subsystems {
		for _, dep := range s.DependsOn {
			if err := built[s.Name].DependsOn(built[dep]); err != nil {
				return nil, err
			}
		}
		if err := d.Add(built[s.Name]); err != nil {
			return nil, err
		}
	}
	return d, nil
}
