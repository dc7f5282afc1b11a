package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/carelink-io/carelink/internal/model"
)

// WebhookEventRepo persists verified provider events in the
// 'webhook_events' table. The (provider, external_id) unique key is
// the dedup anchor: insert-if-absent decides once, globally, whether
// a delivery is new. Status transitions are conditional updates so a
// re-delivered event and an in-flight worker cannot both claim it.
type WebhookEventRepo struct{ DB *sql.DB }

func NewWebhookEventRepo(db *sql.DB) *WebhookEventRepo { return &WebhookEventRepo{DB: db} }

// Insert records a newly verified event in status 'received'.
// Returns ErrDuplicateEvent when the (provider, external_id) pair is
// already recorded.
func (r *WebhookEventRepo) Insert(ctx context.Context, ev model.WebhookEvent) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO webhook_events (provider, external_id, event_type, payload, status, received_at) VALUES (?,?,?,?,'received',UTC_TIMESTAMP())",
		ev.Provider, ev.ExternalID, ev.EventType, ev.Payload)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}

// Get fetches an event row by its dedup key.
func (r *WebhookEventRepo) Get(ctx context.Context, provider, externalID string) (model.WebhookEvent, error) {
	var (
		ev          model.WebhookEvent
		processedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, provider, external_id, event_type, payload, status, error_detail, received_at, processed_at FROM webhook_events WHERE provider=? AND external_id=? LIMIT 1",
		provider, externalID).Scan(&ev.ID, &ev.Provider, &ev.ExternalID, &ev.EventType, &ev.Payload,
		&ev.Status, &ev.ErrorDetail, &ev.ReceivedAt, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WebhookEvent{}, ErrNotFound
	}
	if err != nil {
		return model.WebhookEvent{}, err
	}
	if processedAt.Valid {
		ev.ProcessedAt = &processedAt.Time
	}
	return ev, nil
}

// Requeue flips a failed event back to 'received' so a provider
// re-delivery may attempt dispatch again. Reports whether the flip
// happened; false means the event was not in 'failed' (processed or
// still in flight) and must not be re-dispatched.
func (r *WebhookEventRepo) Requeue(ctx context.Context, provider, externalID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE webhook_events SET status='received', error_detail='' WHERE provider=? AND external_id=? AND status='failed'",
		provider, externalID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkProcessing claims an event for a worker. Only a 'received' row
// can be claimed, so exactly one worker wins even if the same event
// was enqueued twice.
func (r *WebhookEventRepo) MarkProcessing(ctx context.Context, provider, externalID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE webhook_events SET status='processing' WHERE provider=? AND external_id=? AND status='received'",
		provider, externalID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkProcessed records successful handler completion.
func (r *WebhookEventRepo) MarkProcessed(ctx context.Context, provider, externalID string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE webhook_events SET status='processed', processed_at=UTC_TIMESTAMP(), error_detail='' WHERE provider=? AND external_id=? AND status='processing'",
		provider, externalID)
	return err
}

// MarkFailed records a handler failure with its detail. The provider's
// own retry schedule re-delivers the event; Requeue then makes it
// eligible again.
func (r *WebhookEventRepo) MarkFailed(ctx context.Context, provider, externalID, detail string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE webhook_events SET status='failed', processed_at=UTC_TIMESTAMP(), error_detail=? WHERE provider=? AND external_id=? AND status='processing'",
		detail, provider, externalID)
	return err
}
