package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validModel() *Model {
	m := NewModel()
	m.Name = "helloworld"
	m.Hosts = []*Host{{Name: "node1", Hostname: "10.0.0.1", User: "deploy"}}
	s := m.Subsystem("server")
	s.Actions = []*Action{
		{Kind: "compile", Name: "compile", Hosts: []string{"node1"}},
		{Kind: "run", Name: "run", Hosts: []string{"node1"}, DependsOn: []string{"compile"}, Release: `Press Ctrl\+C`},
	}
	return m
}

func TestValidate(t *testing.T) {
	require.NoError(t, validModel().Validate())

	cases := map[string]func(m *Model){
		"unknown host": func(m *Model) {
			m.Subsystems[0].Actions[0].Hosts = []string{"ghost"}
		},
		"no hosts": func(m *Model) {
			m.Subsystems[0].Actions[0].Hosts = nil
		},
		"unknown action dependency": func(m *Model) {
			m.Subsystems[0].Actions[1].DependsOn = []string{"ghost"}
		},
		"duplicate action": func(m *Model) {
			m.Subsystem("client").Actions = []*Action{{Kind: "shell", Name: "compile", Hosts: []string{"node1"}}}
		},
		"cross subsystem dependency": func(m *Model) {
			m.Subsystem("client").Actions = []*Action{{Kind: "shell", Name: "call", Hosts: []string{"node1"}, DependsOn: []string{"run"}}}
		},
		"unknown subsystem": func(m *Model) {
			m.Subsystems[0].DependsOn = []string{"db"}
		},
		"bad pattern": func(m *Model) {
			m.Subsystems[0].Actions[0].ErrorPatterns = []string{"("}
		},
		"host without user": func(m *Model) {
			m.Hosts[0].User = ""
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := validModel()
			mutate(m)
			assert.ErrorIs(t, m.Validate(), ErrInvalidModel)
		})
	}
}

func TestValidate_KnownHosts(t *testing.T) {
	m := validModel()
	m.Hosts = nil
	assert.Error(t, m.Validate())
	assert.NoError(t, m.Validate("node1"))
}

func TestMerge(t *testing.T) {
	a := validModel()
	b := NewModel()
	b.HostsFile = "hosts.tsv"
	b.ParallelSubsystems = true
	b.Subsystem("server").Actions = []*Action{{Kind: "version", Name: "version", Hosts: []string{"node1"}, Timeout: time.Second}}
	b.Subsystem("client").DependsOn = []string{"server"}

	a.Merge(b)
	assert.Equal(t, "helloworld", a.Name)
	assert.Equal(t, "hosts.tsv", a.HostsFile)
	assert.True(t, a.ParallelSubsystems)
	require.Len(t, a.Subsystems, 2)
	assert.Len(t, a.Subsystems[0].Actions, 3)
	assert.Equal(t, []string{"server"}, a.Subsystems[1].DependsOn)
	assert.Equal(t, 3, a.Actions())
}
