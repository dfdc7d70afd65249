package registry

import (
	"errors"
	"fmt"

	"github.com/unicesi/amelia-sub000/internal/action"
	"github.com/unicesi/amelia-sub000/internal/config"
	"github.com/unicesi/amelia-sub000/internal/target"
)

// BuildAll creates the actions of one subsystem, then wires their
// dependencies and targets. hosts maps host names to targets.
func (r *Registry) BuildAll(decls []*config.Action, hosts map[string]*target.Target) ([]*action.Action, error) {
	built := make(map[string]*action.Action, len(decls))
	out := make([]*action.Action, 0, len(decls))
	var errs []error
	for _, d := range decls {
		a, err := r.Build(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		built[d.Name] = a
		out = append(out, a)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, d := range decls {
		a := built[d.Name]
		for _, name := range d.Hosts {
			t, ok := hosts[name]
			if !ok {
				errs = append(errs, fmt.Errorf("action '%s': unknown host '%s'", d.Name, name))
				continue
			}
			a.RunsOn(t)
		}
		for _, name := range d.DependsOn {
			dep, ok := built[name]
			if !ok {
				errs = append(errs, fmt.Errorf("action '%s': unknown dependency '%s'", d.Name, name))
				continue
			}
			if err := a.DependsOn(dep); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
