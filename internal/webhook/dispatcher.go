package webhook

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrQueueBacklog is returned by Enqueue when the work queue is full.
// The ledger row stays in 'received' and the provider's own retry
// schedule re-delivers the event, so nothing is lost — only deferred.
var ErrQueueBacklog = errors.New("dispatch queue full")

// EventStore is the slice of the webhook event ledger the dispatcher
// needs: claiming an event for processing and recording the outcome.
// *repository.WebhookEventRepo satisfies it.
type EventStore interface {
	MarkProcessing(ctx context.Context, provider, externalID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, externalID string) error
	MarkFailed(ctx context.Context, provider, externalID, detail string) error
}

// Handler processes one verified event. Returning an error and
// panicking are equivalent outcomes: the event is marked failed with
// the detail and waits for provider re-delivery.
type Handler func(ctx context.Context, ev Event) error

// Notifier observes successfully processed events, e.g. to publish a
// broker notification. Failures inside a Notifier are its own
// problem; the dispatcher never calls it before the ledger says
// processed.
type Notifier func(ctx context.Context, ev Event)

// Dispatcher decouples webhook business processing from the HTTP
// request path: handlers acknowledge the provider immediately and
// hand the event to a bounded queue consumed by worker goroutines.
// Every hop is recorded on the ledger row, so a dropped event is
// visible as a stuck 'received' status instead of an unobserved
// rejected task.
type Dispatcher struct {
	store     EventStore
	handlers  map[string]Handler
	notify    Notifier
	jobs      chan Event
	workers   int
	opTimeout time.Duration

	wg sync.WaitGroup
}

// NewDispatcher builds a dispatcher with the given worker count and
// queue capacity. Register all handlers before calling Start; the
// handler map is not guarded after workers are running.
func NewDispatcher(store EventStore, workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		store:     store,
		handlers:  make(map[string]Handler),
		jobs:      make(chan Event, queueSize),
		workers:   workers,
		opTimeout: 30 * time.Second,
	}
}

// Register binds a handler to one provider event type.
func (d *Dispatcher) Register(provider, eventType string, h Handler) {
	d.handlers[provider+"/"+eventType] = h
}

// OnProcessed installs the post-success notifier.
func (d *Dispatcher) OnProcessed(n Notifier) { d.notify = n }

// Start launches the worker goroutines.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for ev := range d.jobs {
				d.process(ev)
			}
		}()
	}
}

// Stop drains the queue and waits for in-flight work to finish.
func (d *Dispatcher) Stop() {
	close(d.jobs)
	d.wg.Wait()
}

// Enqueue hands an event to the workers without blocking the caller.
// A full queue is reported, not waited out: the HTTP handler has
// already durably recorded the event and must answer the provider.
func (d *Dispatcher) Enqueue(ev Event) error {
	select {
	case d.jobs <- ev:
		return nil
	default:
		return ErrQueueBacklog
	}
}

// process runs one event end to end: claim, invoke, record outcome.
func (d *Dispatcher) process(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opTimeout)
	defer cancel()

	claimed, err := d.store.MarkProcessing(ctx, ev.Provider, ev.ExternalID)
	if err != nil {
		log.Printf("dispatcher: claim %s/%s failed: %v", ev.Provider, ev.ExternalID, err)
		return
	}
	if !claimed {
		// Not in 'received': a concurrent worker owns it or a prior
		// delivery already settled it.
		return
	}

	h, ok := d.handlers[ev.Provider+"/"+ev.Type]
	if !ok {
		// Unknown event types are settled as processed without a
		// business dispatch; providers add types without notice and
		// retrying an event nobody handles helps no one.
		log.Printf("dispatcher: no handler for %s/%s (type %q), settling", ev.Provider, ev.ExternalID, ev.Type)
		if err := d.store.MarkProcessed(ctx, ev.Provider, ev.ExternalID); err != nil {
			log.Printf("dispatcher: settle %s/%s failed: %v", ev.Provider, ev.ExternalID, err)
		}
		return
	}

	if err := invoke(ctx, h, ev); err != nil {
		log.Printf("dispatcher: handler failed for %s/%s (type %q): %v", ev.Provider, ev.ExternalID, ev.Type, err)
		if mErr := d.store.MarkFailed(ctx, ev.Provider, ev.ExternalID, truncate(err.Error(), 1000)); mErr != nil {
			log.Printf("dispatcher: mark failed %s/%s: %v", ev.Provider, ev.ExternalID, mErr)
		}
		return
	}

	if err := d.store.MarkProcessed(ctx, ev.Provider, ev.ExternalID); err != nil {
		log.Printf("dispatcher: mark processed %s/%s: %v", ev.Provider, ev.ExternalID, err)
		return
	}
	if d.notify != nil {
		d.notify(ctx, ev)
	}
}

// invoke runs a handler, converting a panic into an ordinary error so
// one bad payload cannot take a worker down.
func invoke(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
