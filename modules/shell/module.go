// Package shell provides the generic action kinds: "shell" runs any command
// line and "cd" changes the working directory of the target's session.
package shell

import (
	"strings"

	"github.com/unicesi/amelia-sub000/internal/action"
	"github.com/unicesi/amelia-sub000/internal/config"
	"github.com/unicesi/amelia-sub000/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// BuildShell builds a "shell" action. The optional "args" parameter is split
// on whitespace and appended to the command.
func BuildShell(decl *config.Action, common []action.Option) (*action.Action, error) {
	var opts []action.Option
	if args := strings.Fields(decl.Params["args"]); len(args) > 0 {
		opts = append(opts, action.WithArgs(args...))
	}
	opts = append(opts, common...)
	return action.New(decl.Name, decl.Params["command"], opts...), nil
}

// BuildCd builds a "cd" action. It is released by the prompt, so the
// directory change is in effect for the actions that run after it.
func BuildCd(decl *config.Action, common []action.Option) (*action.Action, error) {
	opts := append([]action.Option{action.WithArgs(decl.Params["path"])}, common...)
	return action.New(decl.Name, "cd", opts...), nil
}

// Register registers the kinds with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterKind(&registry.Kind{
		Name:        "shell",
		Description: "Runs a command line in the target's shell.",
		Required:    []string{"command"},
		Optional:    []string{"args"},
		Build:       BuildShell,
	})
	r.RegisterKind(&registry.Kind{
		Name:        "cd",
		Description: "Changes the working directory of the target's shell.",
		Required:    []string{"path"},
		Build:       BuildCd,
	})
}
