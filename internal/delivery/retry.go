package delivery

import (
	"context"
	"log/slog"
	"time"

	"mahilo/internal/observability"
	"mahilo/internal/repository"
)

const (
	backoffBase = time.Second
	backoffCap  = 60 * time.Second
)

// BackoffFor returns the wait before the next attempt after retryCount
// failures: 1s doubling per failure, capped at one minute.
func BackoffFor(retryCount int) time.Duration {
	if retryCount < 1 {
		return backoffBase
	}
	d := backoffBase << (retryCount - 1)
	if d > backoffCap || d <= 0 {
		return backoffCap
	}
	return d
}

// RetryProcessor periodically scans for pending messages and fan-out
// deliveries whose backoff has elapsed and re-attempts them. All state lives
// in the database, so a restart resumes where the previous process stopped.
type RetryProcessor struct {
	msgs       repository.MessageRepository
	dispatcher *Dispatcher
	interval   time.Duration
	grace      time.Duration
	maxRetries int
}

// NewRetryProcessor creates a new retry processor. grace is how long a
// pending row with no recorded attempt is left to the send path before the
// sweeper claims it as orphaned; it must exceed the callback timeout.
func NewRetryProcessor(msgs repository.MessageRepository, dispatcher *Dispatcher, interval, grace time.Duration, maxRetries int) *RetryProcessor {
	return &RetryProcessor{
		msgs:       msgs,
		dispatcher: dispatcher,
		interval:   interval,
		grace:      grace,
		maxRetries: maxRetries,
	}
}

// Run blocks until ctx is cancelled, waking at the configured interval.
func (p *RetryProcessor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	observability.Logger().Info("retry processor started",
		slog.Duration("interval", p.interval),
		slog.Int("max_retries", p.maxRetries))

	for {
		select {
		case <-ctx.Done():
			observability.Logger().Info("retry processor stopped")
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep runs one scan-and-retry pass. Exposed for tests and operator tools.
func (p *RetryProcessor) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-p.grace)

	msgs, err := p.msgs.ListPendingUserMessages(ctx, p.maxRetries, staleBefore)
	if err != nil {
		observability.Logger().Error("retry scan failed", slog.Any("error", err))
	} else {
		for i := range msgs {
			msg := &msgs[i]
			if !due(now, msg.UpdatedAt, msg.RetryCount) {
				continue
			}
			p.dispatcher.AttemptMessage(ctx, msg)
		}
	}

	children, err := p.msgs.ListPendingDeliveries(ctx, p.maxRetries, staleBefore)
	if err != nil {
		observability.Logger().Error("delivery retry scan failed", slog.Any("error", err))
		return
	}
	for i := range children {
		child := &children[i]
		if !due(now, child.UpdatedAt, child.RetryCount) {
			continue
		}
		p.dispatcher.AttemptDelivery(ctx, child)
	}
}

func due(now, lastAttempt time.Time, retryCount int) bool {
	return now.Sub(lastAttempt) >= BackoffFor(retryCount)
}
