package registry

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/unicesi/amelia-sub000/internal/action"
	"github.com/unicesi/amelia-sub000/internal/config"
)

// Builder turns a declared action into an *action.Action. common holds the
// options compiled from the settings every kind shares; builders append them
// after their own defaults so that the declaration wins.
type Builder func(decl *config.Action, common []action.Option) (*action.Action, error)

// Kind describes one action kind.
type Kind struct {
	Name        string
	Description string
	// Required and Optional list the parameter names the kind accepts.
	Required []string
	Optional []string
	Build    Builder
}

// RegisterKind registers an action kind. It panics when the name is taken.
func (r *Registry) RegisterKind(k *Kind) {
	if _, exists := r.kinds[k.Name]; exists {
		panic(fmt.Sprintf("action kind with name '%s' already registered", k.Name))
	}
	if k.Build == nil {
		panic(fmt.Sprintf("action kind '%s' has no builder", k.Name))
	}
	slog.Debug("Registering action kind.", "name", k.Name)
	r.kinds[k.Name] = k
}

// Build creates the action declared by decl. It does not wire dependencies
// or targets.
func (r *Registry) Build(decl *config.Action) (*action.Action, error) {
	k, ok := r.kinds[decl.Kind]
	if !ok {
		return nil, fmt.Errorf("action '%s': unknown kind '%s'", decl.Name, decl.Kind)
	}
	common, err := CommonOptions(decl)
	if err != nil {
		return nil, fmt.Errorf("action '%s': %w", decl.Name, err)
	}
	a, err := k.Build(decl, common)
	if err != nil {
		return nil, fmt.Errorf("action '%s' (%s): %w", decl.Name, decl.Kind, err)
	}
	return a, nil
}

// CommonOptions compiles the settings shared by every kind.
func CommonOptions(decl *config.Action) ([]action.Option, error) {
	var opts []action.Option
	if decl.Release != "" {
		re, err := regexp.Compile(decl.Release)
		if err != nil {
			return nil, fmt.Errorf("invalid release pattern: %w", err)
		}
		opts = append(opts, action.WithRelease(re))
	}
	if decl.Completion != "" {
		re, err := regexp.Compile(decl.Completion)
		if err != nil {
			return nil, fmt.Errorf("invalid completion pattern: %w", err)
		}
		opts = append(opts, action.WithCompletion(re))
	}
	for _, p := range decl.ErrorPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid error pattern: %w", err)
		}
		opts = append(opts, action.WithErrorPatterns(re))
	}
	if decl.Timeout != 0 {
		opts = append(opts, action.WithTimeout(decl.Timeout))
	}
	if decl.Execution {
		opts = append(opts, action.AsExecution())
	}
	if decl.OnSuccess != "" || decl.OnFailure != "" {
		opts = append(opts, action.WithMessages(decl.OnSuccess, decl.OnFailure))
	}
	return opts, nil
}
