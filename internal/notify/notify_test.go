package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unicesi/amelia-sub000/internal/dag"
)

func TestPayload(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p := Payload(dag.Event{
		Graph:   "deployment",
		Node:    "run",
		Lane:    "h1",
		Kind:    dag.UnitFailed,
		Err:     errors.New("exit status 1"),
		At:      at,
		Elapsed: 1500 * time.Millisecond,
	})
	assert.Equal(t, map[string]any{
		"graph":      "deployment",
		"node":       "run",
		"lane":       "h1",
		"kind":       "failed",
		"at":         "2024-05-01T10:00:00Z",
		"elapsed_ms": int64(1500),
		"error":      "exit status 1",
	}, p)

	_, ok := Payload(dag.Event{Kind: dag.UnitCompleted})["error"]
	assert.False(t, ok)
}

func TestObserve_EmitsUnitEvents(t *testing.T) {
	type emitted struct {
		event string
		args  []any
	}
	var got []emitted
	disconnected := false
	n := &Notifier{
		emit:       func(event string, args ...any) { got = append(got, emitted{event, args}) },
		disconnect: func() { disconnected = true },
	}

	n.Observe(dag.Event{Graph: "g", Node: "compile", Lane: "h1", Kind: dag.UnitStarted})
	require.Len(t, got, 1)
	assert.Equal(t, UnitEvent, got[0].event)
	require.Len(t, got[0].args, 1)
	assert.Equal(t, "started", got[0].args[0].(map[string]any)["kind"])

	require.NoError(t, n.Close())
	assert.True(t, disconnected)
}

func TestDial_InvalidURL(t *testing.T) {
	_, err := Dial(context.Background(), "localhost:3000")
	assert.ErrorContains(t, err, "scheme and host are required")

	_, err = Dial(context.Background(), "http://[::1")
	assert.ErrorContains(t, err, "failed to parse URL")
}
