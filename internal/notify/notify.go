// Package notify delivers post-commit movement notifications. Delivery is
// best effort: a movement that committed is never failed or rolled back
// because a notification could not be sent.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/wallet-infra/internal/wallet"
)

// Event describes a committed movement for downstream delivery.
type Event struct {
	Reference    string
	Category     wallet.TxCategory
	AccountID    string
	Counterparty string
	Amount       int64
	Fee          int64
	OccurredAt   time.Time
}

// Notifier delivers a single event. Implementations may block; the
// dispatcher calls them off the request path.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

const (
	queueDepth      = 256
	deliveryTimeout = 5 * time.Second
)

// Dispatcher fans events out to notifiers from a background worker. The
// queue is bounded; when it is full events are dropped and logged rather
// than backpressuring the money path.
type Dispatcher struct {
	log       *slog.Logger
	notifiers []Notifier

	queue chan Event
	done  chan struct{}
	once  sync.Once
}

func NewDispatcher(log *slog.Logger, notifiers ...Notifier) *Dispatcher {
	d := &Dispatcher{
		log:       log,
		notifiers: notifiers,
		queue:     make(chan Event, queueDepth),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

// Dispatch enqueues an event. It never blocks.
func (d *Dispatcher) Dispatch(ev Event) {
	select {
	case d.queue <- ev:
	default:
		d.log.Warn("notification queue full, dropping event",
			slog.String("reference", ev.Reference),
			slog.String("category", string(ev.Category)))
	}
}

// Close stops the worker after draining queued events.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.queue)
		<-d.done
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	for _, n := range d.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			d.log.Error("notification delivery failed",
				slog.String("reference", ev.Reference),
				slog.String("error", err.Error()))
		}
	}
}

// LogNotifier writes events to the structured log. It is the default sink
// in development deployments.
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.Log.Info("movement notification",
		slog.String("reference", ev.Reference),
		slog.String("category", string(ev.Category)),
		slog.String("account_id", ev.AccountID),
		slog.Int64("amount", ev.Amount),
		slog.Int64("fee", ev.Fee))
	return nil
}
