package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Provider names accepted on the webhook ingest path.
const (
	ProviderBilling = "billing"
	ProviderBgcheck = "bgcheck"
)

// ErrBadEnvelope is returned when a signature-verified payload does
// not parse into the provider's envelope shape. A legitimately signed
// payload always parses, so the boundary answers 4xx and records
// nothing — this is malformation, not a retry trigger.
var ErrBadEnvelope = errors.New("malformed event envelope")

// Event is one verified, decoded provider delivery. Raw keeps the
// exact payload bytes for the ledger and for typed payload decoding.
type Event struct {
	Provider   string
	ExternalID string
	Type       string
	Raw        []byte
}

// billingEnvelope mirrors the billing provider's outer event shape.
type billingEnvelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// bgcheckEnvelope mirrors the background-check provider's outer shape.
type bgcheckEnvelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// ParseEnvelope extracts provider + external event ID + type from a
// verified payload. It must only ever run after signature
// verification: the envelope is trusted input from here on.
func ParseEnvelope(provider string, raw []byte) (Event, error) {
	switch provider {
	case ProviderBilling:
		var env billingEnvelope
		if err := json.Unmarshal(raw, &env); err != nil || env.ID == "" || env.Type == "" {
			return Event{}, ErrBadEnvelope
		}
		return Event{Provider: provider, ExternalID: env.ID, Type: env.Type, Raw: raw}, nil
	case ProviderBgcheck:
		var env bgcheckEnvelope
		if err := json.Unmarshal(raw, &env); err != nil || env.EventID == "" || env.EventType == "" {
			return Event{}, ErrBadEnvelope
		}
		return Event{Provider: provider, ExternalID: env.EventID, Type: env.EventType, Raw: raw}, nil
	}
	return Event{}, fmt.Errorf("%w: unknown provider %q", ErrBadEnvelope, provider)
}

// Payload is the decoded, typed content of an event. Each known event
// type decodes into its own variant; anything else becomes
// Unrecognized rather than being cast through untyped.
type Payload interface{ payloadKind() string }

// InvoicePaid is the billing "invoice.paid" event payload.
type InvoicePaid struct {
	InvoiceID   string `json:"invoice_id"`
	AmountCents int64  `json:"amount_cents"`
	CustomerRef string `json:"customer_ref"`
}

// InvoicePaymentFailed is the billing "invoice.payment_failed" payload.
type InvoicePaymentFailed struct {
	InvoiceID   string `json:"invoice_id"`
	CustomerRef string `json:"customer_ref"`
	Reason      string `json:"reason"`
}

// ReportCompleted is the bgcheck "report.completed" payload.
type ReportCompleted struct {
	ReportID     string `json:"report_id"`
	CandidateRef string `json:"candidate_ref"`
	Result       string `json:"result"`
}

// Unrecognized carries the raw data of an event type this service
// does not know. It is acknowledged and recorded, never dispatched.
type Unrecognized struct {
	Type string
	Data json.RawMessage
}

func (InvoicePaid) payloadKind() string          { return "invoice.paid" }
func (InvoicePaymentFailed) payloadKind() string { return "invoice.payment_failed" }
func (ReportCompleted) payloadKind() string      { return "report.completed" }
func (u Unrecognized) payloadKind() string       { return u.Type }

// DecodePayload returns the typed payload for the event. Unknown
// event types yield the explicit Unrecognized variant, not an error:
// providers add types without notice and that must not fail ingestion.
func (e Event) DecodePayload() (Payload, error) {
	data, err := e.data()
	if err != nil {
		return nil, err
	}
	switch e.Provider + "/" + e.Type {
	case "billing/invoice.paid":
		var p InvoicePaid
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Type, err)
		}
		return p, nil
	case "billing/invoice.payment_failed":
		var p InvoicePaymentFailed
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Type, err)
		}
		return p, nil
	case "bgcheck/report.completed":
		var p ReportCompleted
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Type, err)
		}
		return p, nil
	}
	return Unrecognized{Type: e.Type, Data: data}, nil
}

// data re-extracts the inner payload object from the raw envelope.
func (e Event) data() (json.RawMessage, error) {
	switch e.Provider {
	case ProviderBilling:
		var env billingEnvelope
		if err := json.Unmarshal(e.Raw, &env); err != nil {
			return nil, ErrBadEnvelope
		}
		return env.Data, nil
	case ProviderBgcheck:
		var env bgcheckEnvelope
		if err := json.Unmarshal(e.Raw, &env); err != nil {
			return nil, ErrBadEnvelope
		}
		return env.Payload, nil
	}
	return nil, ErrBadEnvelope
}
