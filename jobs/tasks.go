package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/padma-erp/padma-erp/internal/jobs"
	"github.com/padma-erp/padma-erp/internal/procurement"
	"github.com/padma-erp/padma-erp/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRefundReview flags a refund above the auto-credit threshold for
	// manual handling.
	TaskRefundReview = "procurement:refund_review"
	// TaskIdempotencyCleanup prunes aged idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// NewRefundReviewTask constructs the Asynq task for a manual refund review.
func NewRefundReviewTask(payload procurement.RefundReviewPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRefundReview, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewIdempotencyCleanupTask constructs the periodic cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault))
}

// RefundReviewJob notifies operations about refunds that need a human
// decision. The credit itself stays manual; the job records the audit trail
// and metrics.
type RefundReviewJob struct {
	logger  *slog.Logger
	audit   *shared.AuditLogger
	metrics *jobmetrics.Metrics
}

// NewRefundReviewJob constructs the job handler.
func NewRefundReviewJob(logger *slog.Logger, audit *shared.AuditLogger, metrics *jobmetrics.Metrics) *RefundReviewJob {
	return &RefundReviewJob{logger: logger, audit: audit, metrics: metrics}
}

// Handle processes TaskRefundReview tasks.
func (j *RefundReviewJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("refund_review")
	var payload procurement.RefundReviewPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(asynq.SkipRetry)
	}
	j.logger.Warn("refund above auto-credit threshold, manual review required",
		slog.String("po_number", payload.PONumber),
		slog.String("refund_amount", payload.RefundAmount),
		slog.Float64("lost_percentage", payload.LostPercentage),
	)
	if j.audit != nil {
		_ = j.audit.Record(ctx, shared.AuditLog{
			Action:   "PO_REFUND_REVIEW",
			Entity:   "purchase_order",
			EntityID: payload.PONumber,
			Meta: map[string]any{
				"refund_amount":   payload.RefundAmount,
				"lost_percentage": payload.LostPercentage,
			},
		})
	}
	j.metrics.AddRefundReview("queued")
	return tracker.End(nil)
}

// IdempotencyCleanupJob prunes processed keys older than the retention
// window. Scheduled via cron from the worker.
type IdempotencyCleanupJob struct {
	logger    *slog.Logger
	store     *shared.IdempotencyStore
	retention time.Duration
	metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob constructs the job handler.
func NewIdempotencyCleanupJob(logger *slog.Logger, store *shared.IdempotencyStore, retention time.Duration, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &IdempotencyCleanupJob{logger: logger, store: store, retention: retention, metrics: metrics}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("idempotency_cleanup")
	if err := j.store.Cleanup(ctx, j.retention); err != nil {
		j.logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("idempotency keys pruned", slog.Duration("retention", j.retention))
	return tracker.End(nil)
}
