package app

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/unicesi/amelia-sub000/internal/action"
	"github.com/unicesi/amelia-sub000/internal/controller"
)

// Validate builds every graph of the deployment, without contacting any
// host, and checks them for missing dependencies and cycles.
func (a *App) Validate() error {
	_, err := a.plan()
	return err
}

// subsystemPlan is one validated subsystem graph.
type subsystemPlan struct {
	name      string
	dependsOn []string
	graph     *controller.Graph
}

func (a *App) plan() ([]subsystemPlan, error) {
	targets := a.buildTargets()
	d, err := a.buildDeployment(targets)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	if err := d.Graph().Validate(); err != nil {
		return nil, fmt.Errorf("invalid subsystem graph: %w", err)
	}

	var plans []subsystemPlan
	for _, s := range a.model.Subsystems {
		actions, err := a.registry.BuildAll(s.Actions, targets)
		if err != nil {
			return nil, err
		}
		c := controller.New(a.dialer, controller.WithName(s.Name))
		if err := c.Add(actions...); err != nil {
			return nil, err
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		plans = append(plans, subsystemPlan{name: s.Name, dependsOn: s.DependsOn, graph: c.Graph()})
	}
	return plans, nil
}

// Describe writes the validated deployment plan to w: every subsystem with
// its actions, the targets they run on and the fan-in of their barriers.
func (a *App) Describe(w io.Writer) error {
	plans, err := a.plan()
	if err != nil {
		return err
	}

	name := a.model.Name
	if name == "" {
		name = "deployment"
	}
	fmt.Fprintf(w, "deployment %s: %d subsystems, %d actions\n", name, len(plans), a.model.Actions())
	for _, p := range plans {
		deps := "-"
		if len(p.dependsOn) > 0 {
			deps = strings.Join(p.dependsOn, ", ")
		}
		fmt.Fprintf(w, "\nsubsystem %s (after: %s)\n", p.name, deps)

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  ACTION\tCOMMAND\tTARGETS\tUNITS\tFAN-IN\tAFTER")
		for _, n := range p.graph.Nodes() {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%d\t%d\t%s\n",
				n.ID(), commandOf(n), targetNames(n), len(p.graph.Units(n)), p.graph.FanIn(n), dependencyNames(n))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func commandOf(a *action.Action) string {
	if a.IsExecution() {
		return a.CommandLine() + " &"
	}
	return a.CommandLine()
}

func targetNames(a *action.Action) string {
	names := make([]string, 0, len(a.Targets()))
	for _, t := range a.Targets() {
		names = append(names, t.Name())
	}
	return strings.Join(names, ",")
}

func dependencyNames(a *action.Action) string {
	if len(a.Dependencies()) == 0 {
		return "-"
	}
	names := make([]string, 0, len(a.Dependencies()))
	for _, d := range a.Dependencies() {
		names = append(names, d.ID())
	}
	return strings.Join(names, ",")
}
