package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carelink-io/carelink/internal/model"
	"github.com/carelink-io/carelink/internal/repository"
	"github.com/carelink-io/carelink/internal/webhook"
)

// maxWebhookBody caps how much a provider may POST at us.
const maxWebhookBody = 1 << 20 // 1 MiB

// WebhookHandler receives signed provider callbacks. The route must
// see the request body untouched: no Bind, no body-parsing middleware,
// because the providers sign the literal byte sequence and any
// re-serialization breaks verification.
type WebhookHandler struct {
	Secrets    map[string]string // provider name -> shared secret
	Events     *repository.WebhookEventRepo
	Dispatcher *webhook.Dispatcher
}

func NewWebhookHandler(secrets map[string]string, events *repository.WebhookEventRepo, d *webhook.Dispatcher) *WebhookHandler {
	return &WebhookHandler{Secrets: secrets, Events: events, Dispatcher: d}
}

// Receive handles POST /v1/webhooks/:provider.
//
// Protocol per delivery: verify the signature over the raw bytes
// (reject 4xx, no ledger row), parse the envelope (reject 4xx, no
// ledger row — a legitimately signed payload always parses), then
// insert-or-recognize the (provider, external_id) row and acknowledge
// 2xx. Business processing runs on the dispatcher's workers, never on
// this request path; the provider connection must not block on
// downstream work.
func (h *WebhookHandler) Receive(c echo.Context) error {
	provider := c.Param("provider")
	scheme, ok := webhook.SchemeFor(provider)
	secret := h.Secrets[provider]
	if !ok || secret == "" {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown provider"})
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil || len(body) == 0 || len(body) > maxWebhookBody {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	if !scheme.Verify(body, c.Request().Header.Get(scheme.Header), []byte(secret)) {
		// Malicious or corrupted deliveries leave no trace to dedupe
		// against; the provider retries, and retries keep failing here.
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid signature"})
	}

	ev, err := webhook.ParseEnvelope(provider, body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed event"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	insertErr := h.Events.Insert(ctx, model.WebhookEvent{
		Provider:   ev.Provider,
		ExternalID: ev.ExternalID,
		EventType:  ev.Type,
		Payload:    ev.Raw,
	})
	switch {
	case insertErr == nil:
		// Newly recorded: acknowledge and hand off.
	case errors.Is(insertErr, repository.ErrDuplicateEvent):
		// Re-delivery. A previously failed event gets another shot,
		// and a row still sitting in 'received' (earlier backlog or a
		// crash between acknowledge and dispatch) is handed off again
		// — the processing claim keeps that single-winner. Processed
		// and in-flight events are simply acknowledged so the
		// provider stops retrying.
		requeued, rqErr := h.Events.Requeue(ctx, ev.Provider, ev.ExternalID)
		if rqErr != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "ledger error"})
		}
		if !requeued {
			existing, gErr := h.Events.Get(ctx, ev.Provider, ev.ExternalID)
			if gErr != nil || existing.Status != model.EventStatusReceived {
				return c.JSON(http.StatusOK, echo.Map{"received": true, "duplicate": true})
			}
		}
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "ledger error"})
	}

	if err := h.Dispatcher.Enqueue(ev); err != nil {
		// Row stays 'received'; the provider's retry schedule brings
		// the event back when there is queue room again.
		c.Logger().Warnf("webhook backlog, deferring %s/%s: %v", ev.Provider, ev.ExternalID, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"received": true})
}
