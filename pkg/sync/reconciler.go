package sync

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/openlot/openlot/pkg/observability"
)

// Reconciler periodically drains the outbox, retrying provider pushes
// that failed on the request path
type Reconciler struct {
	service   *Service
	schedule  string
	batchSize int
	logger    *observability.Logger
	cron      *cron.Cron
}

// NewReconciler creates a reconciler on a cron schedule, e.g. "*/5 * * * *"
func NewReconciler(service *Service, schedule string, batchSize int, logger *observability.Logger) *Reconciler {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Reconciler{
		service:   service,
		schedule:  schedule,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Start begins the schedule. Runs overlap-safe: a slow pass simply
// shortens the idle window before the next one.
func (r *Reconciler) Start() error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(r.schedule, func() {
		if err := r.RunOnce(context.Background()); err != nil {
			r.logger.WithError(err).Error("outbox reconciliation failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reconciler: %w", err)
	}
	r.cron.Start()
	r.logger.WithField("schedule", r.schedule).Info("role sync reconciler started")
	return nil
}

// Stop halts the schedule and waits for an in-flight pass to finish
func (r *Reconciler) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// RunOnce drains up to one batch of pending intents. Failures stay in
// the outbox with their attempt counter bumped.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	outbox := r.service.outbox
	if outbox == nil {
		return nil
	}

	intents, err := outbox.Pending(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to load pending intents: %w", err)
	}

	var synced, failed int
	for _, intent := range intents {
		if r.service.SyncRoleToExternal(ctx, intent.ExternalID, intent.Role) {
			if err := outbox.Remove(ctx, intent.ExternalID); err != nil {
				r.logger.WithError(err).WithField("external_id", intent.ExternalID).
					Error("failed to clear synced intent")
				continue
			}
			synced++
			r.service.recordSync("reconciled")
		} else {
			if err := outbox.MarkAttempt(ctx, intent.ExternalID, "provider push failed"); err != nil {
				r.logger.WithError(err).WithField("external_id", intent.ExternalID).
					Error("failed to mark sync attempt")
			}
			failed++
		}
	}

	if size, err := outbox.Size(ctx); err == nil && r.service.metrics != nil {
		r.service.metrics.RoleSyncOutboxSize.Set(float64(size))
	}

	if len(intents) > 0 {
		r.logger.WithFields(map[string]interface{}{
			"synced": synced,
			"failed": failed,
		}).Info("outbox reconciliation pass complete")
	}
	return nil
}
