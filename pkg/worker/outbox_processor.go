package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
	"github.com/jwalitptl/sisreg-api/pkg/logger"
	"github.com/jwalitptl/sisreg-api/pkg/messaging"
	"github.com/jwalitptl/sisreg-api/pkg/metrics"
)

// Notifier delivers the side-channel notification of an event. It reports
// whether anything was sent.
type Notifier interface {
	Notify(ctx context.Context, eventType string, payload []byte) (bool, error)
}

type OutboxProcessorConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// ClaimTimeout bounds how long a claimed event stays hidden from other
	// workers before it is handed out again.
	ClaimTimeout time.Duration
}

type OutboxProcessor struct {
	repo     repository.OutboxRepository
	broker   messaging.Broker
	notifier Notifier
	config   OutboxProcessorConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	notifier Notifier,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxProcessor {
	// Config validation instead of defaults
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}
	if config.ClaimTimeout <= 0 {
		panic("ClaimTimeout must be greater than 0")
	}

	return &OutboxProcessor{
		repo:     repo,
		broker:   broker,
		notifier: notifier,
		config:   config,
		logger:   logger,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

// ProcessBatch claims one batch of due events and publishes them. It
// returns how many events were settled. Each event is settled on its own:
// a failed status update is logged and leaves the event claimed until its
// claim expires, without touching the rest of the batch.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.ClaimPendingEvents(ctx, p.config.BatchSize, p.now().Add(p.config.ClaimTimeout))
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("claim_pending_events", "error").Inc()
		return 0, fmt.Errorf("failed to claim pending events: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("claim_pending_events", "success").Inc()

	var handled int
	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "Failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
			continue
		}
		handled++
	}
	return handled, nil
}

// processEvent only returns an error when the outbox row could not be
// updated. Publish failures are recorded on the row.
func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	msg := messaging.Message{
		ID:      event.ID.String(),
		Type:    event.EventType,
		Payload: json.RawMessage(event.Payload),
	}
	if err := p.broker.Publish(ctx, messaging.ReferralChannel, msg); err != nil {
		return p.handleFailure(ctx, event, err)
	}

	p.notify(ctx, event)

	if err := p.repo.MarkProcessed(ctx, event.ID); err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("mark_processed", "error").Inc()
		return fmt.Errorf("failed to mark event %s processed: %w", event.ID, err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("mark_processed", "success").Inc()
	p.metrics.OutboxEventsProcessed.Inc()
	return nil
}

func (p *OutboxProcessor) handleFailure(ctx context.Context, event *model.OutboxEvent, cause error) error {
	attempt := event.RetryCount + 1
	if attempt >= p.config.RetryAttempts {
		p.metrics.OutboxEventsFailed.Inc()
		p.logger.Error(cause, "Outbox event failed permanently",
			"event_id", event.ID.String(),
			"event_type", event.EventType,
			"attempts", attempt)
		if err := p.repo.MarkFailed(ctx, event.ID, cause.Error()); err != nil {
			return fmt.Errorf("failed to mark event %s failed: %w", event.ID, err)
		}
		return nil
	}

	p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
	retryAt := p.now().Add(backoff(p.config.RetryDelay, event.RetryCount))
	p.logger.Warn("Outbox publish failed, scheduling retry",
		"event_id", event.ID.String(),
		"event_type", event.EventType,
		"attempt", attempt,
		"retry_at", retryAt,
		"error", cause.Error())
	if err := p.repo.MarkRetry(ctx, event.ID, cause.Error(), retryAt); err != nil {
		return fmt.Errorf("failed to schedule retry for event %s: %w", event.ID, err)
	}
	return nil
}

// notify is best effort: a failed e-mail never blocks the event.
func (p *OutboxProcessor) notify(ctx context.Context, event *model.OutboxEvent) {
	if p.notifier == nil {
		return
	}
	sent, err := p.notifier.Notify(ctx, event.EventType, event.Payload)
	switch {
	case err != nil:
		p.metrics.NotificationsSent.WithLabelValues(event.EventType, "error").Inc()
		p.logger.Error(err, "Failed to send notification",
			"event_id", event.ID.String(),
			"event_type", event.EventType)
	case sent:
		p.metrics.NotificationsSent.WithLabelValues(event.EventType, "sent").Inc()
	}
}

// backoff doubles delay per previous attempt, capped at one hour.
func backoff(delay time.Duration, retries int) time.Duration {
	d := delay
	for i := 0; i < retries && d < time.Hour; i++ {
		d *= 2
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}
