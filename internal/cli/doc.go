// Package cli wires the amelia commands (deploy, validate, graph and kinds)
// to the application and maps their failures to process exit codes.
package cli
