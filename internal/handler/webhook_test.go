package handler

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink-io/carelink/internal/repository"
	"github.com/carelink-io/carelink/internal/webhook"
)

const billingSecret = "whsec_billing_test_0123456789"

// stubEventStore gives the dispatcher an in-memory ledger so handler
// tests can observe claims and outcomes without threading async worker
// activity through ordered sqlmock expectations.
type stubEventStore struct {
	mu      sync.Mutex
	claimed map[string]bool
	status  map[string]string
}

func newStubEventStore() *stubEventStore {
	return &stubEventStore{claimed: map[string]bool{}, status: map[string]string{}}
}

func (s *stubEventStore) MarkProcessing(_ context.Context, provider, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := provider + "/" + externalID
	if s.claimed[key] {
		return false, nil
	}
	s.claimed[key] = true
	s.status[key] = "processing"
	return true, nil
}

func (s *stubEventStore) MarkProcessed(_ context.Context, provider, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[provider+"/"+externalID] = "processed"
	return nil
}

func (s *stubEventStore) MarkFailed(_ context.Context, provider, externalID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[provider+"/"+externalID] = "failed"
	return nil
}

func (s *stubEventStore) get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[key]
}

func waitStubStatus(t *testing.T, s *stubEventStore, key, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.get(key) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %s never reached %q (last %q)", key, want, s.get(key))
}

func newWebhookHarness(t *testing.T, d *webhook.Dispatcher) (*WebhookHandler, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	secrets := map[string]string{webhook.ProviderBilling: billingSecret}
	return NewWebhookHandler(secrets, repository.NewWebhookEventRepo(db), d), mock, db
}

func deliver(e *echo.Echo, h *WebhookHandler, provider string, body []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/"+provider, bytes.NewReader(body))
	if sig != "" {
		scheme, _ := webhook.SchemeFor(provider)
		header := scheme.Header
		if header == "" {
			header = "X-Signature"
		}
		req.Header.Set(header, sig)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("provider")
	c.SetParamValues(provider)
	_ = h.Receive(c)
	return rec
}

func signedBilling(body []byte) string {
	scheme, _ := webhook.SchemeFor(webhook.ProviderBilling)
	return scheme.Sign(body, []byte(billingSecret))
}

// Two deliveries of the same (provider, external_id) both get 2xx but
// the business handler runs exactly once.
func TestWebhookDuplicateDeliverySingleDispatch(t *testing.T) {
	store := newStubEventStore()
	d := webhook.NewDispatcher(store, 2, 8)

	var handled sync.Map
	d.Register(webhook.ProviderBilling, "invoice.paid", func(_ context.Context, ev webhook.Event) error {
		n, _ := handled.LoadOrStore(ev.ExternalID, new(int32))
		*(n.(*int32))++
		return nil
	})
	d.Start()
	defer d.Stop()

	h, mock, db := newWebhookHarness(t, d)
	defer db.Close()
	e := echo.New()

	body := []byte(`{"id":"evt_100","type":"invoice.paid","data":{"invoice_id":"inv_7","amount_cents":2500,"currency":"USD","booking_id":"bk_1"}}`)
	sig := signedBilling(body)

	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("billing", "evt_100", "invoice.paid", body).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := deliver(e, h, "billing", body, sig)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	waitStubStatus(t, store, "billing/evt_100", "processed")

	// Re-delivery: the row is already processed, so acknowledge only.
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("billing", "evt_100", "invoice.paid", body).
		WillReturnError(errDuplicateKey())
	mock.ExpectExec("UPDATE webhook_events SET status='received'").
		WithArgs("billing", "evt_100").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, provider, external_id, event_type, payload, status, error_detail, received_at, processed_at FROM webhook_events").
		WithArgs("billing", "evt_100").
		WillReturnRows(eventRow("evt_100", "processed", body))

	rec = deliver(e, h, "billing", body, sig)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"duplicate":true`)

	n, ok := handled.Load("evt_100")
	require.True(t, ok, "handler never ran")
	assert.Equal(t, int32(1), *(n.(*int32)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A re-delivery that finds the row stuck in 'received' (earlier queue
// backlog or crash after acknowledge) is handed to the workers again.
func TestWebhookRedeliveryRescuesStuckReceived(t *testing.T) {
	store := newStubEventStore()
	d := webhook.NewDispatcher(store, 1, 4)
	d.Register(webhook.ProviderBilling, "invoice.paid", func(context.Context, webhook.Event) error { return nil })
	d.Start()
	defer d.Stop()

	h, mock, db := newWebhookHarness(t, d)
	defer db.Close()
	e := echo.New()

	body := []byte(`{"id":"evt_200","type":"invoice.paid","data":{"invoice_id":"inv_9","amount_cents":900,"currency":"USD","booking_id":"bk_2"}}`)

	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("billing", "evt_200", "invoice.paid", body).
		WillReturnError(errDuplicateKey())
	mock.ExpectExec("UPDATE webhook_events SET status='received'").
		WithArgs("billing", "evt_200").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, provider, external_id, event_type, payload, status, error_detail, received_at, processed_at FROM webhook_events").
		WithArgs("billing", "evt_200").
		WillReturnRows(eventRow("evt_200", "received", body))

	rec := deliver(e, h, "billing", body, signedBilling(body))
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	waitStubStatus(t, store, "billing/evt_200", "processed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A single flipped payload byte invalidates the signature; nothing is
// recorded, so the provider's retry of the genuine bytes is not deduped
// against a corrupted delivery.
func TestWebhookTamperedPayloadRejected(t *testing.T) {
	d := webhook.NewDispatcher(newStubEventStore(), 1, 4)
	h, mock, db := newWebhookHarness(t, d)
	defer db.Close()
	e := echo.New()

	body := []byte(`{"id":"evt_300","type":"invoice.paid","data":{"invoice_id":"inv_1","amount_cents":100,"currency":"USD","booking_id":"bk_3"}}`)
	sig := signedBilling(body)

	tampered := bytes.Replace(body, []byte("inv_1"), []byte("inv_2"), 1)
	rec := deliver(e, h, "billing", tampered, sig)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = deliver(e, h, "billing", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// No signature check can pass for a provider we hold no secret for.
	rec = deliver(e, h, "bgcheck", body, "deadbeef")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = deliver(e, h, "shady", body, sig)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// None of the rejections touched the ledger.
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Authentically signed but structurally unusable payloads are rejected
// before the ledger: there is no event identity to dedupe on.
func TestWebhookSignedButMalformedRejected(t *testing.T) {
	d := webhook.NewDispatcher(newStubEventStore(), 1, 4)
	h, mock, db := newWebhookHarness(t, d)
	defer db.Close()
	e := echo.New()

	body := []byte(`{"type":"invoice.paid"}`) // signed, but no event id
	rec := deliver(e, h, "billing", body, signedBilling(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A full dispatch queue defers work without failing the delivery: the
// row stays 'received' and the provider retry brings it back.
func TestWebhookBacklogStillAcknowledged(t *testing.T) {
	// One-slot queue, workers never started: the second enqueue backs up.
	d := webhook.NewDispatcher(newStubEventStore(), 1, 1)
	h, mock, db := newWebhookHarness(t, d)
	defer db.Close()
	e := echo.New()

	for i, id := range []string{"evt_400", "evt_401"} {
		body := []byte(`{"id":"` + id + `","type":"invoice.paid","data":{"invoice_id":"inv_b","amount_cents":50,"currency":"USD","booking_id":"bk_4"}}`)
		mock.ExpectExec("INSERT INTO webhook_events").
			WithArgs("billing", id, "invoice.paid", body).
			WillReturnResult(sqlmock.NewResult(int64(i+1), 1))
		rec := deliver(e, h, "billing", body, signedBilling(body))
		assert.Equal(t, http.StatusAccepted, rec.Code, "delivery %d", i+1)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func errDuplicateKey() error {
	return &mysqlDupErr{}
}

type mysqlDupErr struct{}

func (*mysqlDupErr) Error() string {
	return "Error 1062 (23000): Duplicate entry 'billing-evt' for key 'webhook_events.uq_provider_external'"
}

func eventRow(externalID, status string, payload []byte) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "provider", "external_id", "event_type", "payload", "status", "error_detail", "received_at", "processed_at"}).
		AddRow(uint64(1), "billing", externalID, "invoice.paid", payload, status, "", time.Now().UTC(), nil)
}
