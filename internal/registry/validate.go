package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/unicesi/amelia-sub000/internal/config"
	"github.com/unicesi/amelia-sub000/internal/ctxlog"
)

// ValidateModel checks every declared action against its kind: the kind must
// be registered, required parameters present and no unknown parameter given.
func (r *Registry) ValidateModel(ctx context.Context, m *config.Model) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for _, s := range m.Subsystems {
		for _, a := range s.Actions {
			k, ok := r.kinds[a.Kind]
			if !ok {
				errs = append(errs, fmt.Sprintf("action '%s': unknown kind '%s'", a.Name, a.Kind))
				continue
			}

			accepted := make(map[string]bool, len(k.Required)+len(k.Optional))
			for _, p := range k.Required {
				accepted[p] = true
				if _, ok := a.Params[p]; !ok {
					errs = append(errs, fmt.Sprintf("action '%s' (%s): missing required parameter '%s'", a.Name, a.Kind, p))
				}
			}
			for _, p := range k.Optional {
				accepted[p] = true
			}

			names := make([]string, 0, len(a.Params))
			for p := range a.Params {
				names = append(names, p)
			}
			sort.Strings(names)
			for _, p := range names {
				if !accepted[p] {
					errs = append(errs, fmt.Sprintf("action '%s' (%s): unknown parameter '%s'", a.Name, a.Kind, p))
				}
			}
			logger.Debug("Validated action declaration.", "action", a.Name, "kind", a.Kind)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}
