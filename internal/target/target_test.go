package target

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unicesi/amelia-sub000/internal/queue"
	"github.com/unicesi/amelia-sub000/internal/session/sessiontest"
)

func TestOpen_IsIdempotent(t *testing.T) {
	d := &sessiontest.Dialer{}
	tg := New("node1.local", "deploy", "secret")

	require.NoError(t, tg.Open(context.Background(), d))
	first, err := tg.Session()
	require.NoError(t, err)

	require.NoError(t, tg.Open(context.Background(), d))
	second, err := tg.Session()
	require.NoError(t, err)

	assert.Same(t, first, second)
	sessions, transfers := d.Opens()
	assert.Equal(t, 1, sessions)
	assert.Equal(t, 1, transfers)
	assert.True(t, tg.IsOpen())
}

func TestOpen_FailureKeepsTargetClosed(t *testing.T) {
	boom := errors.New("connection refused")
	d := &sessiontest.Dialer{SessionErr: map[string]error{"node1.local": boom}}
	tg := New("node1.local", "deploy", "secret")

	err := tg.Open(context.Background(), d)
	assert.ErrorIs(t, err, boom)
	assert.False(t, tg.IsOpen())

	_, err = tg.Session()
	assert.ErrorIs(t, err, ErrNotOpen)
	_, err = tg.Transfer()
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestClose_IsIdempotent(t *testing.T) {
	d := &sessiontest.Dialer{}
	tg := New("node1.local", "deploy", "secret")

	// Closing a target that was never opened is a no-op.
	require.NoError(t, tg.Close())

	require.NoError(t, tg.Open(context.Background(), d))
	require.NoError(t, tg.Close())
	require.NoError(t, tg.Close())
	assert.Equal(t, 2, d.Closes(), "one session and one transfer close, no double closes")
	assert.False(t, tg.IsOpen())
}

func TestSubmit_UsesOneSerialQueue(t *testing.T) {
	tg := New("node1.local", "deploy", "secret")
	defer tg.ShutdownQueue()

	var order []int
	for i := 0; i < 3; i++ {
		require.NoError(t, tg.Submit(context.Background(), func(context.Context) error {
			order = append(order, i)
			return nil
		}))
	}
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestShutdownQueue_ReopenStartsFreshQueue(t *testing.T) {
	d := &sessiontest.Dialer{}
	tg := New("node1.local", "deploy", "secret")
	require.NoError(t, tg.Open(context.Background(), d))

	tg.ShutdownQueue()
	err := tg.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, queue.ErrShutdown)

	require.NoError(t, tg.Open(context.Background(), d))
	assert.NoError(t, tg.Submit(context.Background(), func(context.Context) error { return nil }))
	tg.ShutdownQueue()
}

func TestExecutions_MostRecentFirst(t *testing.T) {
	tg := New("node1.local", "deploy", "secret")
	base := time.Now()
	tg.RecordExecution(Execution{Action: "server", PID: 10, StartedAt: base})
	tg.RecordExecution(Execution{Action: "client", PID: 20, StartedAt: base.Add(time.Second)})
	tg.RecordExecution(Execution{Action: "monitor", PID: 30, StartedAt: base.Add(time.Second)})

	got := tg.Executions()
	require.Len(t, got, 3)
	assert.Equal(t, []int{30, 20, 10}, []int{got[0].PID, got[1].PID, got[2].PID})

	tg.ForgetExecution(20)
	got = tg.Executions()
	require.Len(t, got, 2)
	assert.Equal(t, 30, got[0].PID)
	assert.Equal(t, 10, got[1].PID)
}

func TestName(t *testing.T) {
	tg := &Target{Hostname: "10.0.0.5", User: "root"}
	assert.Equal(t, "10.0.0.5", tg.Name())
	tg.Identifier = "db"
	assert.Equal(t, "db", tg.Name())
	assert.Equal(t, "root@db", tg.String())
	assert.Equal(t, "10.0.0.5:22", New("10.0.0.5", "root", "").SessionEndpoint().Address())
}
