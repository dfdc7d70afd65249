// Package dag is the scheduling core of amelia. It holds a dependency graph
// of nodes, expands every node into one unit per lane it runs on, and
// executes all units concurrently behind per-unit barriers.
//
// A unit of node n may only start after every unit of every dependency of n
// has completed. The number of completions a unit waits for is its fan-in:
// the sum of the unit counts of n's direct dependencies. A dependency that
// runs on three hosts therefore contributes three to the fan-in of each unit
// downstream of it.
//
// The same Graph type schedules actions on hosts (one lane per host) and
// subsystems of a deployment (one shared lane).
package dag
