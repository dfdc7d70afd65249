package dag

import "context"

// barrier counts the completion signals a single unit still waits for.
// Every dependency unit publishes exactly one signal to every subscriber, so
// a channel buffered to the fan-in never blocks a publisher.
type barrier struct {
	signals   chan struct{}
	remaining int
}

func newBarrier(fanIn int) *barrier {
	return &barrier{
		signals:   make(chan struct{}, fanIn),
		remaining: fanIn,
	}
}

// publish delivers one completion signal.
func (b *barrier) publish() {
	b.signals <- struct{}{}
}

// wait blocks until all expected signals arrived or ctx is done. It reports
// whether the unit may run. An aborted wait drains the remaining count so
// the unit neither runs nor holds up the run.
func (b *barrier) wait(ctx context.Context) bool {
	for b.remaining > 0 {
		select {
		case <-b.signals:
			b.remaining--
		case <-ctx.Done():
			b.remaining = 0
			return false
		}
	}
	return ctx.Err() == nil
}
