package hclconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unicesi/amelia-sub000/internal/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testLoader(env ...string) *Loader {
	return &Loader{environ: func() []string { return env }}
}

func TestLoad_MergesFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hosts.hcl", `
deployment "helloworld" {
  hosts_file = "hosts.tsv"
}

host "node1" {
  hostname = "10.0.0.5"
  user     = "deploy"
  password = env.DEPLOY_PASSWORD
}
`)
	writeFile(t, dir, "subsystems/server.hcl", `
subsystem "server" {
  action "compile" "compile-server" {
    hosts  = ["node1"]
    params = {
      source = "${env.SRC_ROOT}/server"
      name   = "server"
    }
    error_patterns = ["ERROR"]
    timeout        = "30s"
  }

  action "run" "run-server" {
    hosts      = ["node1"]
    depends_on = ["compile-server"]
    execution  = true
    release    = "Press Ctrl\\+C"
    on_success = "server up on {{host}}"
    params = {
      composite = format("%s-http", "helloworld")
    }
  }
}

subsystem "client" {
  depends_on = ["server"]
}
`)
	writeFile(t, dir, "README.md", "not hcl")

	m, err := testLoader("DEPLOY_PASSWORD=s3cret", "SRC_ROOT=/home/deploy/src").Load(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "helloworld", m.Name)
	assert.Equal(t, "hosts.tsv", m.HostsFile)
	require.Len(t, m.Hosts, 1)
	assert.Equal(t, &config.Host{Name: "node1", Hostname: "10.0.0.5", User: "deploy", Password: "s3cret", SessionPort: 22, TransferPort: 22}, m.Hosts[0])

	require.Len(t, m.Subsystems, 2)
	server := m.Subsystems[0]
	assert.Equal(t, "server", server.Name)
	require.Len(t, server.Actions, 2)

	compile := server.Actions[0]
	assert.Equal(t, "compile", compile.Kind)
	assert.Equal(t, "compile-server", compile.Name)
	assert.Equal(t, "/home/deploy/src/server", compile.Params["source"])
	assert.Equal(t, []string{"ERROR"}, compile.ErrorPatterns)
	assert.Equal(t, 30*time.Second, compile.Timeout)

	run := server.Actions[1]
	assert.True(t, run.Execution)
	assert.Equal(t, `Press Ctrl\+C`, run.Release)
	assert.Equal(t, []string{"compile-server"}, run.DependsOn)
	assert.Equal(t, "helloworld-http", run.Params["composite"])
	assert.Equal(t, "server up on {{host}}", run.OnSuccess)

	assert.Equal(t, []string{"server"}, m.Subsystems[1].DependsOn)
	require.NoError(t, m.Validate())
}

func TestLoad_TopLevelActionsGoToDefaultSubsystem(t *testing.T) {
	path := writeFile(t, t.TempDir(), "main.hcl", `
host "node1" {
  user = "root"
  session_port = 2222
}

action "shell" "uptime" {
  hosts  = ["node1"]
  params = { command = "uptime" }
}
`)
	m, err := testLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, m.Subsystems, 1)
	assert.Equal(t, config.DefaultSubsystem, m.Subsystems[0].Name)
	assert.Equal(t, "node1", m.Hosts[0].Hostname)
	assert.Equal(t, 2222, m.Hosts[0].SessionPort)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"syntax error":  `host "node1" {`,
		"missing user":  `host "node1" {}`,
		"unknown block": `server "x" {}`,
		"bad timeout":   "action \"shell\" \"x\" {\n  hosts = [\"a\"]\n  timeout = \"soon\"\n}",
		"undefined env": `host "a" { user = env.NOT_SET }`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "bad.hcl", content)
			_, err := testLoader().Load(context.Background(), path)
			assert.Error(t, err)
		})
	}

	t.Run("missing path", func(t *testing.T) {
		_, err := testLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})
	t.Run("no hcl files", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.txt", "")
		_, err := testLoader().Load(context.Background(), dir)
		assert.ErrorContains(t, err, "no .hcl files")
	})
}
