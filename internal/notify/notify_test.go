package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingNotifier struct {
	mu   sync.Mutex
	got  []Event
	fail bool
}

func (n *countingNotifier) Notify(_ context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, ev)
	if n.fail {
		return errors.New("smtp down")
	}
	return nil
}

func (n *countingNotifier) events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.got...)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherDelivers(t *testing.T) {
	n := &countingNotifier{}
	d := NewDispatcher(discard(), n)

	d.Dispatch(Event{Reference: "TXN-1", AccountID: "alice"})
	d.Dispatch(Event{Reference: "TXN-2", AccountID: "alice"})
	d.Close()

	got := n.events()
	require.Len(t, got, 2)
	assert.Equal(t, "TXN-1", got[0].Reference)
	assert.Equal(t, "TXN-2", got[1].Reference)
}

func TestDispatcherIsolatesFailures(t *testing.T) {
	failing := &countingNotifier{fail: true}
	healthy := &countingNotifier{}
	d := NewDispatcher(discard(), failing, healthy)

	d.Dispatch(Event{Reference: "TXN-1"})
	d.Close()

	// Both were invoked; the failure went to the log only.
	assert.Len(t, failing.events(), 1)
	assert.Len(t, healthy.events(), 1)
}

func TestDispatchNeverBlocks(t *testing.T) {
	// No worker will drain this dispatcher's queue in time: the notifier
	// blocks until we release it, so the queue fills and overflow events
	// must be dropped rather than blocking the caller.
	release := make(chan struct{})
	blocking := notifierFunc(func(context.Context, Event) error {
		<-release
		return nil
	})
	d := NewDispatcher(discard(), blocking)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < queueDepth*2; i++ {
			d.Dispatch(Event{Reference: "TXN-flood"})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}
	close(release)
	d.Close()
}

type notifierFunc func(ctx context.Context, ev Event) error

func (f notifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }
