// Package registry maps the action kinds used in deployment descriptions
// ("shell", "frascati.run", "assets" ...) to the Go code that builds them.
//
// Modules register their kinds once at startup. The registry then checks a
// loaded config.Model against the registered kinds, so that unknown kinds and
// missing or misspelled parameters are reported before any host is
// contacted, and finally turns every declared action into an *action.Action.
package registry
