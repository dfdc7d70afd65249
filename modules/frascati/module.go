// Package frascati provides the action kinds of the FraSCAti SCA runtime:
// compiling a composite, running it and checking the installed version.
package frascati

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/unicesi/amelia-sub000/internal/action"
	"github.com/unicesi/amelia-sub000/internal/config"
	"github.com/unicesi/amelia-sub000/internal/registry"
	"github.com/unicesi/amelia-sub000/internal/target"
)

// Command is the FraSCAti launcher expected on the targets' PATH.
const Command = "frascati"

var (
	// Running is printed by "frascati run" once the composite is up.
	Running = regexp.MustCompile(`Press Ctrl\+C to exit`)
	// CallDone is printed when the invoked service method returns.
	CallDone = regexp.MustCompile(`Call done`)
	// Failure matches the output of a failed compilation or run.
	Failure = regexp.MustCompile(`Exception in thread|ERROR`)
)

// ErrVersionMismatch is returned by "version" actions when the installed
// runtime differs from the expected one.
var ErrVersionMismatch = errors.New("unexpected frascati version")

// Module implements the registry.Module interface for this package.
type Module struct{}

// BuildCompile builds "frascati compile <source> <name> [classpath]".
func BuildCompile(decl *config.Action, common []action.Option) (*action.Action, error) {
	args := []string{"compile", decl.Params["source"], decl.Params["name"]}
	if cp := decl.Params["classpath"]; cp != "" {
		args = append(args, cp)
	}
	opts := []action.Option{
		action.WithArgs(args...),
		action.WithErrorPatterns(Failure),
	}
	return action.New(decl.Name, Command, append(opts, common...)...), nil
}

// BuildRun builds "frascati run <composite> -libpath <libpath> [-s service
// -m method]", launched as a detached execution. With a service and a method
// the execution completes once the call is done, otherwise it keeps running
// after printing its ready message.
func BuildRun(decl *config.Action, common []action.Option) (*action.Action, error) {
	args := []string{"run", decl.Params["composite"]}
	if lib := decl.Params["libpath"]; lib != "" {
		args = append(args, "-libpath", lib)
	}
	service, method := decl.Params["service"], decl.Params["method"]
	if (service == "") != (method == "") {
		return nil, fmt.Errorf("service and method must be given together")
	}
	opts := []action.Option{
		action.AsExecution(),
		action.WithErrorPatterns(Failure),
	}
	if service != "" {
		args = append(args, "-s", service, "-m", method)
		opts = append(opts, action.WithCompletion(CallDone))
	} else {
		opts = append(opts, action.WithRelease(Running))
	}
	opts = append(opts, action.WithArgs(args...))
	return action.New(decl.Name, Command, append(opts, common...)...), nil
}

// versionPattern extracts the first dotted version number of an output.
var versionPattern = regexp.MustCompile(`\d+(\.\d+){1,2}`)

// BuildVersion builds "frascati --version". The expected value is either a
// plain version, which the output must contain, or a constraint such as
// ">= 1.4" that the reported version must satisfy.
func BuildVersion(decl *config.Action, common []action.Option) (*action.Action, error) {
	expected := strings.TrimSpace(decl.Params["expected"])
	if expected == "" {
		return nil, errors.New("expected version is empty")
	}
	var constraint *semver.Constraints
	if strings.ContainsAny(expected[:1], "<>=~^!") {
		c, err := semver.NewConstraint(expected)
		if err != nil {
			return nil, fmt.Errorf("invalid version constraint %q: %w", expected, err)
		}
		constraint = c
	}

	var a *action.Action
	check := func(ctx context.Context, t *target.Target, prompt *regexp.Regexp) (string, error) {
		s, err := t.Session()
		if err != nil {
			return "", err
		}
		out, err := s.SendAndAwait(ctx, a.CommandLine(), prompt, a.Timeout())
		if err != nil {
			return out, err
		}
		if !versionMatches(out, expected, constraint) {
			return out, fmt.Errorf("%w: want %s, got %q", ErrVersionMismatch, expected, strings.TrimSpace(out))
		}
		return out, nil
	}
	opts := append([]action.Option{action.WithArgs("--version")}, common...)
	a = action.New(decl.Name, Command, append(opts, action.WithBehavior(check))...)
	return a, nil
}

func versionMatches(out, expected string, constraint *semver.Constraints) bool {
	if constraint == nil {
		return strings.Contains(out, expected)
	}
	v, err := semver.NewVersion(versionPattern.FindString(out))
	if err != nil {
		return false
	}
	return constraint.Check(v)
}

// Register registers the kinds with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterKind(&registry.Kind{
		Name:        "compile",
		Description: "Compiles a FraSCAti composite.",
		Required:    []string{"source", "name"},
		Optional:    []string{"classpath"},
		Build:       BuildCompile,
	})
	r.RegisterKind(&registry.Kind{
		Name:        "run",
		Description: "Runs a FraSCAti composite as a detached execution.",
		Required:    []string{"composite"},
		Optional:    []string{"libpath", "service", "method"},
		Build:       BuildRun,
	})
	r.RegisterKind(&registry.Kind{
		Name:        "version",
		Description: "Checks the FraSCAti version installed on the target.",
		Required:    []string{"expected"},
		Build:       BuildVersion,
	})
}
