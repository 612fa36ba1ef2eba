package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/retailhub/lottery-sync/internal/backoff"
	"github.com/retailhub/lottery-sync/internal/classifier"
	"github.com/retailhub/lottery-sync/internal/cloud"
	"github.com/retailhub/lottery-sync/internal/domain"
	"github.com/retailhub/lottery-sync/internal/repository"
)

// failure is what a cycle learned about one failed delivery.
type failure struct {
	endpoint   string
	status     int
	message    string
	retryAfter string
	body       string
}

// failureFromError extracts the HTTP context of err when it is an APIError.
// Transport errors keep status 0 so the classifier matches on the message.
func failureFromError(err error, endpoint string) failure {
	var apiErr *cloud.APIError
	if errors.As(err, &apiErr) {
		return failure{
			endpoint:   endpoint,
			status:     apiErr.StatusCode,
			message:    apiErr.Message,
			retryAfter: apiErr.RetryAfter,
			body:       apiErr.Body,
		}
	}
	return failure{endpoint: endpoint, message: err.Error()}
}

// isOffline reports whether a failed call says nothing about the item: the
// breaker is open or the cycle itself was cancelled. Such failures are not
// recorded as attempts. Request timeouts are recorded and classify TRANSIENT.
func isOffline(ctx context.Context, err error) bool {
	return errors.Is(err, cloud.ErrUnavailable) || ctx.Err() != nil
}

// outcome is how a recorded failure left the item.
type outcome struct {
	category     domain.ErrorCategory
	attempts     int
	deadLettered bool
	retryAt      *time.Time
}

// failureRecorder records a failed attempt, classifies it, and either routes
// the item to the dead-letter queue or schedules its next attempt.
type failureRecorder struct {
	queue      repository.SyncQueueRepository
	classifier *classifier.Classifier
	router     classifier.Router
	backoff    backoff.Policy
	hooks      SyncHooks
	now        func() time.Time
	logger     *zap.Logger
}

func (r *failureRecorder) record(ctx context.Context, item *domain.SyncQueueItem, f failure) (outcome, error) {
	cls := r.classifier.Classify(f.status, f.message, f.retryAfter)

	attempts, err := r.queue.IncrementAttempts(ctx, item.ID, f.message, &repository.AttemptContext{
		Endpoint:     f.endpoint,
		HTTPStatus:   f.status,
		ResponseBody: f.body,
		Category:     cls.Category,
	})
	if err != nil {
		return outcome{}, fmt.Errorf("record attempt: %w", err)
	}
	r.hooks.failed(cls.Category)
	out := outcome{category: cls.Category, attempts: attempts}

	log := r.logger.With(
		zap.String("item_id", item.ID),
		zap.String("entity_type", string(item.EntityType)),
		zap.String("category", string(cls.Category)),
		zap.Int("attempts", attempts),
		zap.Int("http_status", f.status),
	)

	decision := r.router.ShouldDeadLetter(attempts, item.MaxAttempts, cls.Category)
	if decision.DeadLetter {
		if err := r.queue.DeadLetter(ctx, item.ID, decision.Reason); err != nil {
			return out, fmt.Errorf("dead-letter item: %w", err)
		}
		r.hooks.deadLettered(decision.Reason)
		log.Warn("sync item dead-lettered",
			zap.String("reason", string(decision.Reason)),
			zap.String("error", f.message),
		)
		out.deadLettered = true
		return out, nil
	}

	retryAt := cls.RetryAfter
	if retryAt == nil {
		t := r.now().Add(r.backoff.Delay(attempts, cls.ExtendedBackoff))
		retryAt = &t
	}
	if err := r.queue.SetRetryAfter(ctx, item.ID, *retryAt); err != nil {
		return out, fmt.Errorf("schedule retry: %w", err)
	}
	out.retryAt = retryAt

	log.Info("sync attempt failed, retry scheduled",
		zap.Time("retry_after", *retryAt),
		zap.String("error", f.message),
	)
	return out, nil
}
