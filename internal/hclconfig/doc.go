// Package hclconfig provides the HCL implementation of config.Loader. It
// parses every .hcl file under the given paths, evaluates expressions against
// a context exposing the process environment as `env`, and translates the
// blocks into the format-agnostic config.Model.
package hclconfig
