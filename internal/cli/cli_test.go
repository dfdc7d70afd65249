package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unicesi/amelia-sub000/internal/session/sessiontest"
)

const description = `
deployment "demo" {}

action "shell" "prepare" {
  hosts  = ["node1"]
  params = {
    command = "mkdir"
    args    = "-p /opt/demo"
  }
}

action "cd" "enter" {
  hosts      = ["node1"]
  depends_on = ["prepare"]
  params = {
    path = "/opt/demo"
  }
}
`

func writeDescription(t *testing.T, body string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "demo.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	hosts := filepath.Join(dir, "hosts.tsv")
	require.NoError(t, os.WriteFile(hosts, []byte("10.0.0.1\t22\t22\tdeploy\tpw\tnode1\n"), 0o600))
	return path, hosts
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "want *ExitError, got %v", err)
	return exitErr.Code
}

func TestDeploy(t *testing.T) {
	path, hosts := writeDescription(t, description)
	d := &sessiontest.Dialer{}
	out := &bytes.Buffer{}

	err := Execute(context.Background(), []string{"deploy", "--hosts", hosts, path}, Options{Out: out, Dialer: d})
	require.NoError(t, err)
	assert.Equal(t, []string{"mkdir -p /opt/demo", "echo amelia-exit:$?", "cd /opt/demo", "echo amelia-exit:$?"}, d.Lines("10.0.0.1"))
	assert.Contains(t, out.String(), "Deployment finished")
}

func TestDeploy_FailureExitsWithOne(t *testing.T) {
	path, hosts := writeDescription(t, description)
	d := &sessiontest.Dialer{Respond: func(host, line string) (string, error) {
		if line == "echo amelia-exit:$?" {
			return "amelia-exit:1", nil
		}
		return "", nil
	}}

	err := Execute(context.Background(), []string{"deploy", "--hosts", hosts, path}, Options{Out: &bytes.Buffer{}, Dialer: d})
	assert.Equal(t, 1, exitCode(t, err))
	assert.Contains(t, err.Error(), "deployment failed")
	assert.NotContains(t, strings.Join(d.Lines("10.0.0.1"), "\n"), "cd /opt/demo")
}

func TestUsageErrors(t *testing.T) {
	path, hosts := writeDescription(t, description)
	cases := map[string][]string{
		"no paths":        {"deploy"},
		"unknown flag":    {"deploy", "--nope", path},
		"bad log level":   {"--log-level", "loud", "validate", "--hosts", hosts, path},
		"bad format":      {"validate", "--format", "toml", path},
		"unknown command": {"destroy"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			err := Execute(context.Background(), args, Options{Out: &bytes.Buffer{}, Dialer: &sessiontest.Dialer{}})
			assert.Equal(t, 2, exitCode(t, err))
		})
	}
}

func TestValidate(t *testing.T) {
	path, hosts := writeDescription(t, description)
	out := &bytes.Buffer{}
	d := &sessiontest.Dialer{}

	require.NoError(t, Execute(context.Background(), []string{"validate", "--hosts", hosts, path}, Options{Out: out, Dialer: d}))
	assert.Contains(t, out.String(), "Deployment description is valid.")
	sessions, transfers := d.Opens()
	assert.Zero(t, sessions+transfers, "validation never contacts a host")

	bad, badHosts := writeDescription(t, `
action "shell" "a" {
  hosts      = ["node1"]
  depends_on = ["ghost"]
  params     = { command = "true" }
}
`)
	err := Execute(context.Background(), []string{"validate", "--hosts", badHosts, bad}, Options{Out: &bytes.Buffer{}, Dialer: d})
	assert.Equal(t, 1, exitCode(t, err))
	assert.Contains(t, err.Error(), `unknown action "ghost"`)
}

func TestGraph(t *testing.T) {
	path, hosts := writeDescription(t, description)
	out := &bytes.Buffer{}

	require.NoError(t, Execute(context.Background(), []string{"graph", "--hosts", hosts, path}, Options{Out: out, Dialer: &sessiontest.Dialer{}}))
	assert.Contains(t, out.String(), "deployment demo: 1 subsystems, 2 actions")
	assert.Regexp(t, `enter\s+cd /opt/demo\s+node1\s+1\s+1\s+prepare`, out.String())
}

func TestKinds(t *testing.T) {
	out := &bytes.Buffer{}
	require.NoError(t, Execute(context.Background(), []string{"kinds"}, Options{Out: out}))
	for _, kind := range []string{"assets", "cd", "compile", "http", "run", "shell", "version"} {
		assert.Contains(t, out.String(), kind)
	}
}
