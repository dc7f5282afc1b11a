package model

import "time"

// Processing statuses for the `webhook_events.status` column.
// received → processing → processed | failed.  A failed event is
// eligible for re-dispatch when the provider redelivers it; a
// processed event is not.
const (
    EventStatusReceived   = "received"
    EventStatusProcessing = "processing"
    EventStatusProcessed  = "processed"
    EventStatusFailed     = "failed"
)

// WebhookEvent models a row in the `webhook_events` table — one row
// per verified inbound provider event.  The pair (Provider,
// ExternalID) carries a unique key; a second delivery of the same
// external event ID is recognized as a duplicate and acknowledged
// without re-dispatch.  Only signature-verified deliveries are ever
// recorded: rejected payloads leave no row behind.
//
// Fields:
//  ID          – primary key identifier.
//  Provider    – provider name ("billing", "bgcheck").
//  ExternalID  – provider-assigned event identifier.
//  EventType   – provider event type string (e.g. "invoice.paid").
//  Payload     – raw payload bytes exactly as received.
//  Status      – processing status, see constants above.
//  ErrorDetail – handler failure detail (empty unless failed).
//  ReceivedAt  – when the delivery was first recorded.
//  ProcessedAt – when handler processing finished (nullable).
type WebhookEvent struct {
    ID          uint64     // webhook_events.id
    Provider    string     // webhook_events.provider
    ExternalID  string     // webhook_events.external_id
    EventType   string     // webhook_events.event_type
    Payload     []byte     // webhook_events.payload
    Status      string     // webhook_events.status
    ErrorDetail string     // webhook_events.error_detail
    ReceivedAt  time.Time  // webhook_events.received_at
    ProcessedAt *time.Time // webhook_events.processed_at (nullable)
}
