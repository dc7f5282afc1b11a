package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory EventStore mirroring the repository's
// conditional transitions: only 'received' can be claimed.
type memStore struct {
	mu     sync.Mutex
	status map[string]string
	detail map[string]string
}

func newMemStore() *memStore {
	return &memStore{status: make(map[string]string), detail: make(map[string]string)}
}

func (s *memStore) put(provider, externalID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[provider+"/"+externalID] = status
}

func (s *memStore) get(provider, externalID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[provider+"/"+externalID]
}

func (s *memStore) MarkProcessing(_ context.Context, provider, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := provider + "/" + externalID
	if s.status[k] != "received" {
		return false, nil
	}
	s.status[k] = "processing"
	return true, nil
}

func (s *memStore) MarkProcessed(_ context.Context, provider, externalID string) error {
	s.put(provider, externalID, "processed")
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, provider, externalID, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := provider + "/" + externalID
	s.status[k] = "failed"
	s.detail[k] = detail
	return nil
}

func waitStatus(t *testing.T, s *memStore, provider, externalID, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.get(provider, externalID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status never reached %q, got %q", want, s.get(provider, externalID))
}

func testEvent(id string) Event {
	return Event{Provider: ProviderBilling, ExternalID: id, Type: "invoice.paid", Raw: []byte(`{}`)}
}

func TestDispatcherProcessesEvent(t *testing.T) {
	store := newMemStore()
	store.put(ProviderBilling, "evt_1", "received")

	var (
		mu    sync.Mutex
		calls int
	)
	d := NewDispatcher(store, 2, 8)
	d.Register(ProviderBilling, "invoice.paid", func(ctx context.Context, ev Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	d.Start()
	defer d.Stop()

	require.NoError(t, d.Enqueue(testEvent("evt_1")))
	waitStatus(t, store, ProviderBilling, "evt_1", "processed")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestDispatcherDuplicateEnqueueSingleDispatch(t *testing.T) {
	// Two enqueues of the same event (re-delivery racing the first
	// hand-off): the processing claim admits exactly one.
	store := newMemStore()
	store.put(ProviderBilling, "evt_2", "received")

	var (
		mu    sync.Mutex
		calls int
	)
	d := NewDispatcher(store, 4, 8)
	d.Register(ProviderBilling, "invoice.paid", func(ctx context.Context, ev Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	d.Start()

	require.NoError(t, d.Enqueue(testEvent("evt_2")))
	require.NoError(t, d.Enqueue(testEvent("evt_2")))
	d.Stop() // drains both jobs

	assert.Equal(t, "processed", store.get(ProviderBilling, "evt_2"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestDispatcherHandlerErrorMarksFailed(t *testing.T) {
	store := newMemStore()
	store.put(ProviderBilling, "evt_3", "received")

	d := NewDispatcher(store, 1, 4)
	d.Register(ProviderBilling, "invoice.paid", func(ctx context.Context, ev Event) error {
		return errors.New("downstream unavailable")
	})
	d.Start()
	require.NoError(t, d.Enqueue(testEvent("evt_3")))
	d.Stop()

	assert.Equal(t, "failed", store.get(ProviderBilling, "evt_3"))
	assert.Contains(t, store.detail[ProviderBilling+"/evt_3"], "downstream unavailable")
}

func TestDispatcherHandlerPanicMarksFailed(t *testing.T) {
	// Panicking and returning an error are equivalent outcomes.
	store := newMemStore()
	store.put(ProviderBilling, "evt_4", "received")

	d := NewDispatcher(store, 1, 4)
	d.Register(ProviderBilling, "invoice.paid", func(ctx context.Context, ev Event) error {
		panic("unexpected payload shape")
	})
	d.Start()
	require.NoError(t, d.Enqueue(testEvent("evt_4")))
	d.Stop()

	assert.Equal(t, "failed", store.get(ProviderBilling, "evt_4"))
	assert.Contains(t, store.detail[ProviderBilling+"/evt_4"], "handler panic")
}

func TestDispatcherUnknownTypeSettles(t *testing.T) {
	store := newMemStore()
	store.put(ProviderBilling, "evt_5", "received")

	d := NewDispatcher(store, 1, 4)
	d.Start()
	ev := testEvent("evt_5")
	ev.Type = "invoice.voided"
	require.NoError(t, d.Enqueue(ev))
	d.Stop()

	assert.Equal(t, "processed", store.get(ProviderBilling, "evt_5"))
}

func TestDispatcherNotifierRunsAfterProcessed(t *testing.T) {
	store := newMemStore()
	store.put(ProviderBilling, "evt_6", "received")

	notified := make(chan Event, 1)
	d := NewDispatcher(store, 1, 4)
	d.Register(ProviderBilling, "invoice.paid", func(ctx context.Context, ev Event) error { return nil })
	d.OnProcessed(func(ctx context.Context, ev Event) {
		// Ledger must already say processed by the time we fire.
		assert.Equal(t, "processed", store.get(ev.Provider, ev.ExternalID))
		notified <- ev
	})
	d.Start()
	require.NoError(t, d.Enqueue(testEvent("evt_6")))
	d.Stop()

	select {
	case ev := <-notified:
		assert.Equal(t, "evt_6", ev.ExternalID)
	default:
		t.Fatal("notifier never ran")
	}
}

func TestDispatcherEnqueueBacklog(t *testing.T) {
	store := newMemStore()
	d := NewDispatcher(store, 1, 1) // not started: nothing drains the queue

	require.NoError(t, d.Enqueue(testEvent("evt_7")))
	assert.ErrorIs(t, d.Enqueue(testEvent("evt_8")), ErrQueueBacklog)
}
