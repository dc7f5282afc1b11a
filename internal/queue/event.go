// Package queue defines message payloads exchanged over the message broker
// and the background consumer that drains them.
package queue

// WebhookProcessedEvent is published after a provider event has been
// verified, recorded and successfully handed through its business
// handler. Downstream consumers (audit log, notifications, analytics)
// get enough context to act without querying the primary database.
type WebhookProcessedEvent struct {
    Provider    string `json:"provider"`
    ExternalID  string `json:"external_id"`
    EventType   string `json:"event_type"`
    ProcessedAt string `json:"processed_at"`
}
