package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/tubesum/backend/internal/billing"
	"github.com/PortNumber53/tubesum/backend/internal/models"
	"github.com/PortNumber53/tubesum/backend/internal/store"
)

// stubStore implements only what the billing jobs touch; any other call
// panics through the nil embedded interface.
type stubStore struct {
	billing.SubscriptionStore
	matched   bool
	updateErr error
	listErr   error
	updates   []models.StatusUpdate
}

func (s *stubStore) UpdateStatus(_ context.Context, u models.StatusUpdate) (bool, error) {
	s.updates = append(s.updates, u)
	return s.matched, s.updateErr
}

func (s *stubStore) UsersWithMultipleActive(context.Context) ([]string, error) {
	return nil, s.listErr
}

var jobNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func newBillingJobs(st *stubStore, q Enqueuer, interval time.Duration) *BillingJobs {
	clock := func() time.Time { return jobNow }
	return &BillingJobs{
		Sweeper:       &billing.Sweeper{Store: st, Clock: clock},
		Store:         st,
		Clock:         clock,
		Queue:         q,
		SweepInterval: interval,
	}
}

func TestMirrorCancelJob(t *testing.T) {
	st := &stubStore{matched: true}
	jobs := newBillingJobs(st, newFakeQueue(), 0)

	job := testJob(1, models.JobTypeSubscriptionMirrorCancel, 5)
	job.Payload = models.JSONB{"stripe_subscription_id": "sub_1"}

	require.NoError(t, jobs.mirrorCancelHandler()(context.Background(), job))
	require.Len(t, st.updates, 1)
	assert.Equal(t, "sub_1", st.updates[0].ProviderSubscriptionID)
	assert.Equal(t, models.SubscriptionCanceled, st.updates[0].Status)
	assert.Equal(t, jobNow, *st.updates[0].CanceledAt)
}

func TestMirrorCancelJobFailures(t *testing.T) {
	handler := newBillingJobs(&stubStore{}, newFakeQueue(), 0).mirrorCancelHandler()

	err := handler(context.Background(), testJob(1, models.JobTypeSubscriptionMirrorCancel, 5))
	assert.ErrorIs(t, err, ErrPermanent, "missing payload")

	job := testJob(2, models.JobTypeSubscriptionMirrorCancel, 5)
	job.Payload = models.JSONB{"stripe_subscription_id": "sub_gone"}
	err = handler(context.Background(), job)
	assert.ErrorIs(t, err, ErrPermanent, "no local record")

	boom := errors.New("db down")
	transient := newBillingJobs(&stubStore{updateErr: boom}, newFakeQueue(), 0).mirrorCancelHandler()
	err = transient(context.Background(), job)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrPermanent)
}

func TestSweepJobReschedules(t *testing.T) {
	q := newFakeQueue()
	jobs := newBillingJobs(&stubStore{}, q, time.Hour)

	require.NoError(t, jobs.sweepHandler()(context.Background(), testJob(1, models.JobTypeSubscriptionSweep, 3)))

	require.Len(t, q.enqueued, 1)
	next := q.enqueued[0]
	assert.Equal(t, models.JobTypeSubscriptionSweep, next.JobType)
	require.NotNil(t, next.ScheduledFor)
	assert.Equal(t, jobNow.Add(time.Hour), *next.ScheduledFor)
}

func TestSweepJobFailureReschedulesOnLastAttempt(t *testing.T) {
	boom := errors.New("db down")
	q := newFakeQueue()
	jobs := newBillingJobs(&stubStore{listErr: boom}, q, time.Hour)

	job := testJob(1, models.JobTypeSubscriptionSweep, sweepMaxAttempts)
	job.Attempts = 1
	assert.ErrorIs(t, jobs.sweepHandler()(context.Background(), job), boom)
	assert.Empty(t, q.enqueued, "retries remain")

	job.Attempts = sweepMaxAttempts
	assert.ErrorIs(t, jobs.sweepHandler()(context.Background(), job), boom)
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, models.JobTypeSubscriptionSweep, q.enqueued[0].JobType)
	require.NotNil(t, q.enqueued[0].ScheduledFor)
	assert.Equal(t, jobNow.Add(time.Hour), *q.enqueued[0].ScheduledFor)
}

func TestSweepJobWithoutIntervalDoesNotReschedule(t *testing.T) {
	q := newFakeQueue()
	jobs := newBillingJobs(&stubStore{}, q, 0)

	require.NoError(t, jobs.sweepHandler()(context.Background(), testJob(1, models.JobTypeSubscriptionSweep, 3)))
	assert.Empty(t, q.enqueued)
}

func TestScheduleSweepIgnoresPendingDuplicate(t *testing.T) {
	q := newFakeQueue()
	q.enqueueFn = func(*models.Job) error { return store.ErrJobExists }
	jobs := newBillingJobs(&stubStore{}, q, 0)

	assert.NoError(t, jobs.ScheduleSweep(context.Background(), 0))
}

func TestEnqueueMirrorCancel(t *testing.T) {
	q := newFakeQueue()
	jobs := newBillingJobs(&stubStore{}, q, 0)

	jobs.EnqueueMirrorCancel(context.Background(), "sub_9")

	require.Len(t, q.enqueued, 1)
	assert.Equal(t, models.JobTypeSubscriptionMirrorCancel, q.enqueued[0].JobType)
	assert.Equal(t, "sub_9", q.enqueued[0].Payload.String("stripe_subscription_id"))
	assert.Equal(t, models.JobPriorityHigh, q.enqueued[0].Priority)
}

func TestRegisterBindsHandlers(t *testing.T) {
	w := New(Config{}, newFakeQueue())
	newBillingJobs(&stubStore{}, w, 0).Register(w)

	assert.Contains(t, w.handlers, models.JobTypeSubscriptionSweep)
	assert.Contains(t, w.handlers, models.JobTypeSubscriptionMirrorCancel)
}
