package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"    // optional .env loading for local development
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/carelink-io/carelink/internal/config"
	"github.com/carelink-io/carelink/internal/database"
	"github.com/carelink-io/carelink/internal/handler"
	"github.com/carelink-io/carelink/internal/middleware"
	"github.com/carelink-io/carelink/internal/queue"
	"github.com/carelink-io/carelink/internal/repository"
	"github.com/carelink-io/carelink/internal/router"
	"github.com/carelink-io/carelink/internal/webhook"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set the environment directly
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	principals := repository.NewPrincipalRepo(db)
	sessions := repository.NewSessionRepo(db)
	singleUse := repository.NewSingleUseTokenRepo(db)
	events := repository.NewWebhookEventRepo(db)

	// Webhook dispatch: bounded queue, worker pool, outcomes recorded
	// on the ledger row. The registered handlers are the business-side
	// collaborators; here they decode the typed payload and log.
	dispatcher := webhook.NewDispatcher(events, cfg.WebhookWorkers, cfg.WebhookQueueSize)
	dispatcher.Register(webhook.ProviderBilling, "invoice.paid", logEvent)
	dispatcher.Register(webhook.ProviderBilling, "invoice.payment_failed", logEvent)
	dispatcher.Register(webhook.ProviderBgcheck, "report.completed", logEvent)
	dispatcher.OnProcessed(func(ctx context.Context, ev webhook.Event) {
		_ = queue.PublishWebhookProcessed(ctx, queue.WebhookProcessedEvent{
			Provider:    ev.Provider,
			ExternalID:  ev.ExternalID,
			EventType:   ev.Type,
			ProcessedAt: time.Now().UTC().Format(time.RFC3339),
		})
	})
	dispatcher.Start()
	defer dispatcher.Stop()

	// Drain webhook.processed notifications into the audit log.
	go func() {
		if err := queue.StartWebhookLogConsumer(); err != nil {
			log.Printf("webhook-consumer stopped: %v", err)
		}
	}()

	authH := handler.NewAuthHandler(cfg, principals, sessions)
	acctH := handler.NewAccountHandler(cfg, principals, singleUse, sessions, logSender{})
	hookH := handler.NewWebhookHandler(cfg.WebhookSecrets, events, dispatcher)

	e := echo.New()
	router.RegisterRoutes(e)

	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), config.NewRedisClient())
	router.RegisterAuth(e, authH, acctH, cfg.AccessSecret, limiter)
	router.RegisterWebhooks(e, hookH)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}

// logEvent is the stand-in business handler: decode the typed payload
// and log it. Real workflows (activating companions, settling
// invoices) belong to downstream services.
func logEvent(ctx context.Context, ev webhook.Event) error {
	p, err := ev.DecodePayload()
	if err != nil {
		return err
	}
	log.Printf("event %s/%s type=%s payload=%T", ev.Provider, ev.ExternalID, ev.Type, p)
	return nil
}

// logSender is the development TokenSender: it records that a token
// was issued without writing the secret itself to the log. Production
// wires an email/SMS sender here instead.
type logSender struct{}

func (logSender) SendToken(_ context.Context, email, purpose, raw string) error {
	suffix := raw
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	log.Printf("token issued purpose=%s email=%s token=...%s", purpose, email, suffix)
	return nil
}
