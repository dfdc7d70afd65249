package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unicesi/amelia-sub000/internal/session/sessiontest"
)

const helloworld = `
deployment "helloworld" {}

subsystem "server" {
  action "compile" "compile-server" {
    hosts  = ["node1"]
    params = {
      source = "server-src"
      name   = "server"
    }
  }

  action "run" "run-server" {
    hosts      = ["node1"]
    depends_on = ["compile-server"]
    params = {
      composite = "server"
    }
  }
}

subsystem "client" {
  depends_on = ["server"]

  action "run" "run-client" {
    hosts  = ["node2"]
    params = {
      composite = "client"
      service   = "r"
      method    = "run"
    }
  }
}
`

// writeDeployment writes the description and a host list for node1 and
// node2, and returns their paths.
func writeDeployment(t *testing.T, description string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "deployment.hcl")
	require.NoError(t, os.WriteFile(cfgPath, []byte(description), 0o644))
	hostsPath := filepath.Join(dir, "hosts.tsv")
	hosts := "10.0.0.1\t22\t22\tdeploy\tpw\tnode1\n10.0.0.2\t22\t22\tdeploy\tpw\tnode2\n"
	require.NoError(t, os.WriteFile(hostsPath, []byte(hosts), 0o600))
	return cfgPath, hostsPath
}

func frascatiResponder(host, line string) (string, error) {
	switch {
	case strings.HasPrefix(line, "cat /tmp/amelia-run-server-"):
		return "Press Ctrl+C to exit", nil
	case strings.HasPrefix(line, "cat /tmp/amelia-run-client-"):
		return "Call done", nil
	}
	return sessiontest.DefaultResponse(host, line)
}

func index(lines []string, prefix string) int {
	for i, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return i
		}
	}
	return -1
}

func TestNewConfig(t *testing.T) {
	_, err := NewConfig(Config{})
	assert.ErrorContains(t, err, "configuration path is required")

	_, err = NewConfig(Config{ConfigPaths: []string{"x"}, Format: "toml"})
	assert.ErrorContains(t, err, "unknown configuration format")

	_, err = NewConfig(Config{ConfigPaths: []string{"x"}, LogLevel: "loud"})
	assert.ErrorContains(t, err, "unknown log level")

	_, err = NewConfig(Config{ConfigPaths: []string{"x"}, HealthcheckPort: 70000})
	assert.ErrorContains(t, err, "invalid healthcheck port")

	cfg, err := NewConfig(Config{ConfigPaths: []string{"x"}, Format: FormatYAML, LogFormat: "json"})
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, cfg.Format)
}

func TestNewLoader_DetectsFormat(t *testing.T) {
	assert.IsType(t, newLoader("", []string{"a.hcl"}), newLoader(FormatHCL, nil))
	assert.IsType(t, newLoader("", []string{"dir", "b.YML"}), newLoader(FormatYAML, nil))
}

func TestNewApp_RejectsInvalidDescriptions(t *testing.T) {
	cases := map[string]struct {
		description string
		want        string
	}{
		"unknown kind": {
			description: `
action "teleport" "beam" {
  hosts = ["node1"]
}`,
			want: "unknown kind 'teleport'",
		},
		"missing parameter": {
			description: `
action "compile" "c" {
  hosts  = ["node1"]
  params = { source = "src" }
}`,
			want: "missing required parameter 'name'",
		},
		"unknown host": {
			description: `
action "shell" "ls" {
  hosts  = ["node9"]
  params = { command = "ls" }
}`,
			want: `unknown host "node9"`,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfgPath, hostsPath := writeDeployment(t, tc.description)
			cfg, err := NewConfig(Config{ConfigPaths: []string{cfgPath}, HostsFile: hostsPath})
			require.NoError(t, err)
			_, err = NewApp(&SafeBuffer{}, cfg, &sessiontest.Dialer{})
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestRun_DeploysSubsystemsInOrderAndTearsDown(t *testing.T) {
	cfgPath, hostsPath := writeDeployment(t, helloworld)
	d := &sessiontest.Dialer{Respond: frascatiResponder}
	a, logs := SetupAppTest(t, Config{ConfigPaths: []string{cfgPath}, HostsFile: hostsPath}, d)

	require.NoError(t, a.Run(context.Background()))

	node1 := d.Lines("10.0.0.1")
	require.NotEmpty(t, node1)
	assert.Equal(t, "frascati compile server-src server", node1[0])
	assert.Less(t, index(node1, "frascati compile"), index(node1, "nohup frascati run server"))
	assert.Greater(t, index(node1, "kill 4242"), index(node1, "nohup frascati run server"),
		"the server execution is stopped by the final teardown")

	// The client subsystem only starts once the server is up.
	var serverUp, clientStart time.Time
	for _, c := range d.Commands() {
		if strings.HasPrefix(c.Line, "cat /tmp/amelia-run-server-") && serverUp.IsZero() {
			serverUp = c.End
		}
		if strings.HasPrefix(c.Line, "nohup frascati run client") {
			clientStart = c.Start
		}
	}
	require.False(t, clientStart.IsZero())
	assert.False(t, clientStart.Before(serverUp))
	assert.Equal(t, -1, index(d.Lines("10.0.0.2"), "kill "), "completed executions are not stopped")

	assert.Equal(t, 4, d.Closes())
	assert.Contains(t, logs.String(), "All subsystems deployed")
}

func TestRun_FailureIsReturned(t *testing.T) {
	cfgPath, hostsPath := writeDeployment(t, helloworld)
	d := &sessiontest.Dialer{Respond: func(host, line string) (string, error) {
		if strings.HasPrefix(line, "frascati compile") {
			return "ERROR: cannot find composite", nil
		}
		return frascatiResponder(host, line)
	}}
	a, _ := SetupAppTest(t, Config{ConfigPaths: []string{cfgPath}, HostsFile: hostsPath}, d)

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "compile-server")
	assert.ErrorContains(t, err, "output matched error pattern")
	assert.Equal(t, -1, index(d.Lines("10.0.0.1"), "nohup "))
	assert.Empty(t, d.Lines("10.0.0.2"), "dependent subsystems never run")
}

func TestRun_KeepRunningRedeploysAndStopsPrevious(t *testing.T) {
	cfgPath, hostsPath := writeDeployment(t, helloworld)
	d := &sessiontest.Dialer{Respond: frascatiResponder}
	a, logs := SetupAppTest(t, Config{
		ConfigPaths:  []string{cfgPath},
		HostsFile:    hostsPath,
		KeepRunning:  true,
		StopPrevious: true,
	}, d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Count(logs.String(), "Deployment is up") == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, -1, index(d.Lines("10.0.0.1"), "kill "), "kept running after the first round")

	a.Redeploy()
	require.Eventually(t, func() bool {
		return strings.Count(logs.String(), "Deployment is up") == 2
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	var launches, kills []int
	for i, l := range d.Lines("10.0.0.1") {
		switch {
		case strings.HasPrefix(l, "nohup frascati run server"):
			launches = append(launches, i)
		case strings.HasPrefix(l, "kill 4242"):
			kills = append(kills, i)
		}
	}
	require.Len(t, launches, 2)
	require.Len(t, kills, 2, "one stop before the redeploy, one at teardown")
	assert.Greater(t, kills[0], launches[0])
	assert.Less(t, kills[0], launches[1])
	assert.Greater(t, kills[1], launches[1])
}

func TestDescribe(t *testing.T) {
	cfgPath, hostsPath := writeDeployment(t, helloworld)
	a, _ := SetupAppTest(t, Config{ConfigPaths: []string{cfgPath}, HostsFile: hostsPath}, &sessiontest.Dialer{})

	require.NoError(t, a.Validate())
	var out bytes.Buffer
	require.NoError(t, a.Describe(&out))

	text := out.String()
	assert.Contains(t, text, "deployment helloworld: 2 subsystems, 3 actions")
	assert.Contains(t, text, "subsystem client (after: server)")
	assert.Regexp(t, `run-server\s+frascati run server &\s+node1\s+1\s+1\s+compile-server`, text)
	assert.Regexp(t, `compile-server\s+frascati compile server-src server\s+node1\s+1\s+0\s+-`, text)
}

func TestDescribe_SubsystemCycle(t *testing.T) {
	cfgPath, hostsPath := writeDeployment(t, `
subsystem "a" {
  depends_on = ["b"]
}
subsystem "b" {
  depends_on = ["a"]
}
`)
	a, _ := SetupAppTest(t, Config{ConfigPaths: []string{cfgPath}, HostsFile: hostsPath}, &sessiontest.Dialer{})
	assert.ErrorContains(t, a.Validate(), "cycle detected")
}

func TestRoutes(t *testing.T) {
	cfgPath, hostsPath := writeDeployment(t, helloworld)
	d := &sessiontest.Dialer{Respond: frascatiResponder}
	a, _ := SetupAppTest(t, Config{ConfigPaths: []string{cfgPath}, HostsFile: hostsPath}, d)
	require.NoError(t, a.Run(context.Background()))

	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `amelia_units_total{graph="server",outcome="completed"} 2`)
	assert.Contains(t, body.String(), `amelia_units_total{graph="helloworld",outcome="completed"} 2`)
}
