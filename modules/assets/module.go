// Package assets registers the "assets" action kind, which uploads an asset
// bundle to the target through its transfer handle.
package assets

import (
	"fmt"
	"strconv"

	"github.com/unicesi/amelia-sub000/internal/action"
	"github.com/unicesi/amelia-sub000/internal/assets"
	"github.com/unicesi/amelia-sub000/internal/config"
	"github.com/unicesi/amelia-sub000/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Build loads the bundle file named by the "bundle" parameter. Existing
// remote files are kept unless "overwrite" is true.
func Build(decl *config.Action, common []action.Option) (*action.Action, error) {
	overwrite := false
	if v, ok := decl.Params["overwrite"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid overwrite value %q: %w", v, err)
		}
		overwrite = b
	}
	b, err := assets.Load(decl.Params["bundle"])
	if err != nil {
		return nil, err
	}
	return assets.NewAction(decl.Name, b, overwrite, common...), nil
}

// Register registers the kind with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterKind(&registry.Kind{
		Name:        "assets",
		Description: "Uploads the files listed in an asset bundle.",
		Required:    []string{"bundle"},
		Optional:    []string{"overwrite"},
		Build:       Build,
	})
}
