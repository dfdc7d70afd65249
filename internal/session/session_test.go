package session

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoint(t *testing.T) {
	ep := Endpoint{Host: "10.0.0.1", Port: 2222, User: "deploy"}
	assert.Equal(t, "10.0.0.1:2222", ep.Address())
	assert.Equal(t, "deploy@10.0.0.1:2222", ep.String())
}

func TestExitRelease(t *testing.T) {
	release := ExitRelease(regexp.MustCompile(`amelia-prompt\$ $`))

	assert.False(t, release.MatchString("\r\namelia-prompt$ "), "a late prompt alone is not the answer")
	assert.False(t, release.MatchString("amelia-prompt$ amelia-exit:0\r\n"))
	assert.True(t, release.MatchString("amelia-prompt$ amelia-exit:0\r\namelia-prompt$ "))
	assert.False(t, release.MatchString("echo amelia-exit:$?\r\namelia-prompt$ "), "the echoed command carries no status")
}

func TestParseExit(t *testing.T) {
	code, err := ParseExit(ExitAnswer(0))
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	code, err = ParseExit("amelia-prompt$ amelia-exit:127")
	require.NoError(t, err)
	assert.Equal(t, 127, code)

	_, err = ParseExit("")
	assert.ErrorContains(t, err, "unexpected exit status output")
}
