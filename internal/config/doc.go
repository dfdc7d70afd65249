// Package config defines the format-agnostic model of a deployment
// description, along with the Loader interface that format-specific packages
// implement.
//
// The `config.Model` is the single source of truth the application builds
// its targets, actions and subsystems from. Concrete loaders, for HCL and
// YAML, live in separate packages.
package config
