package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/PortNumber53/tubesum/backend/internal/billing"
	"github.com/PortNumber53/tubesum/backend/internal/models"
	"github.com/PortNumber53/tubesum/backend/internal/store"
)

const (
	payloadProviderSubscriptionID = "stripe_subscription_id"

	sweepMaxAttempts        = 3
	mirrorCancelMaxAttempts = 8
)

// Enqueuer adds jobs to the queue. *Worker satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

// BillingJobs wires the billing maintenance jobs.
type BillingJobs struct {
	Sweeper *billing.Sweeper
	Store   billing.SubscriptionStore
	Clock   billing.Clock
	Queue   Enqueuer

	// SweepInterval reschedules the sweep after each run. Zero runs it only
	// when enqueued explicitly.
	SweepInterval time.Duration
}

// Register binds the billing job handlers on w.
func (b *BillingJobs) Register(w *Worker) {
	w.RegisterHandler(models.JobTypeSubscriptionSweep, b.sweepHandler())
	w.RegisterHandler(models.JobTypeSubscriptionMirrorCancel, b.mirrorCancelHandler())

	log.Printf("[worker] Registered billing job handlers: %s, %s",
		models.JobTypeSubscriptionSweep, models.JobTypeSubscriptionMirrorCancel)
}

func (b *BillingJobs) sweepHandler() Handler {
	return func(ctx context.Context, job *models.Job) error {
		report, err := b.Sweeper.Sweep(ctx)
		if err != nil {
			// Out of retries: book the next run anyway.
			if job.Attempts >= job.MaxAttempts {
				b.scheduleNext(ctx)
			}
			return fmt.Errorf("sweep: %w", err)
		}
		log.Printf("[sweep] job %d checked %d users, canceled %d, errors %d",
			job.ID, report.UsersChecked, len(report.Canceled), len(report.Errors))

		b.scheduleNext(ctx)
		return nil
	}
}

func (b *BillingJobs) scheduleNext(ctx context.Context) {
	if b.SweepInterval <= 0 {
		return
	}
	if err := b.ScheduleSweep(ctx, b.SweepInterval); err != nil {
		log.Printf("[sweep] failed to schedule next sweep: %v", err)
	}
}

func (b *BillingJobs) mirrorCancelHandler() Handler {
	return func(ctx context.Context, job *models.Job) error {
		id := job.Payload.String(payloadProviderSubscriptionID)
		if id == "" {
			return fmt.Errorf("%w: missing %s in payload", ErrPermanent, payloadProviderSubscriptionID)
		}

		err := billing.MirrorCancel(ctx, b.Store, b.Clock, id)
		if errors.Is(err, billing.ErrNotFound) {
			return fmt.Errorf("%w: subscription %s has no local record", ErrPermanent, id)
		}
		return err
	}
}

// ScheduleSweep enqueues a sweep to run after delay. An already pending
// sweep is left in place.
func (b *BillingJobs) ScheduleSweep(ctx context.Context, delay time.Duration) error {
	job := &models.Job{
		JobType:     models.JobTypeSubscriptionSweep,
		Payload:     models.JSONB{},
		Priority:    models.JobPriorityLow,
		MaxAttempts: sweepMaxAttempts,
	}
	if delay > 0 {
		at := b.Clock.Now().Add(delay)
		job.ScheduledFor = &at
	}

	err := b.Queue.Enqueue(ctx, job)
	if errors.Is(err, store.ErrJobExists) {
		log.Printf("[sweep] a sweep is already pending; not scheduling another")
		return nil
	}
	return err
}

// EnqueueMirrorCancel queues a retry of the local canceled mirror for a
// subscription the provider already canceled. It has the signature of
// billing.Canceller.OnPartial.
func (b *BillingJobs) EnqueueMirrorCancel(ctx context.Context, providerSubscriptionID string) {
	job := &models.Job{
		JobType:     models.JobTypeSubscriptionMirrorCancel,
		Payload:     models.JSONB{payloadProviderSubscriptionID: providerSubscriptionID},
		Priority:    models.JobPriorityHigh,
		MaxAttempts: mirrorCancelMaxAttempts,
	}
	if err := b.Queue.Enqueue(ctx, job); err != nil {
		log.Printf("[worker] failed to enqueue mirror cancel for %s: %v", providerSubscriptionID, err)
	}
}
