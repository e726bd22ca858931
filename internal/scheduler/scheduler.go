package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"adpilot/internal/metrics"
	"adpilot/internal/store"
)

// outcomePersistAttempts bounds retries of the terminal-status write
// after a firing.
const outcomePersistAttempts = 3

// InvalidScheduleError signals an instant that is not strictly in the future
type InvalidScheduleError struct {
	RunAt time.Time
	Now   time.Time
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("scheduled instant %s is not in the future (now %s)",
		e.RunAt.Format(time.RFC3339), e.Now.Format(time.RFC3339))
}

// NotPendingError signals a cancel against a job that is already terminal
type NotPendingError struct {
	JobID  string
	Status store.ScheduleStatus
}

func (e *NotPendingError) Error() string {
	return fmt.Sprintf("job %q is %s, not pending", e.JobID, e.Status)
}

// Activator executes the activation a fired job requests
type Activator interface {
	ActivateCampaign(ctx context.Context, id string) (*store.CampaignRecord, error)
}

// Scheduler is a durable, time-triggered executor for campaign
// activations. Schedule metadata is written to the store before Schedule
// returns, and the firing loop re-derives due jobs from the store, so
// pending jobs survive process restarts and executed jobs never re-fire.
type Scheduler struct {
	store        store.Store
	activator    Activator
	pollInterval time.Duration
	fireTimeout  time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time

	// mu serializes schedule/cancel/fire transitions. A fire in progress
	// holds it, so cancellation never interrupts an in-flight firing.
	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Options configures a Scheduler
type Options struct {
	Store        store.Store
	Activator    Activator
	PollInterval time.Duration
	FireTimeout  time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// New creates a Scheduler
func New(opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.FireTimeout <= 0 {
		opts.FireTimeout = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		store:        opts.Store,
		activator:    opts.Activator,
		pollInterval: opts.PollInterval,
		fireTimeout:  opts.FireTimeout,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
		stopCh:       make(chan struct{}),
	}
}

// Schedule registers a future activation for a campaign. The record is
// durably written before Schedule returns. If the campaign already has a
// pending job the new request supersedes it: at most one pending job
// exists per campaign at any time.
func (s *Scheduler) Schedule(ctx context.Context, campaignID string, runAt time.Time) (*store.ScheduleRecord, error) {
	now := s.now()
	if !runAt.After(now) {
		return nil, &InvalidScheduleError{RunAt: runAt, Now: now}
	}

	record, err := store.GetCampaign(ctx, s.store, campaignID)
	if err != nil {
		return nil, err
	}
	if record.Remote.CampaignID == "" {
		return nil, fmt.Errorf("campaign %q has no remote campaign to activate", campaignID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobID := fmt.Sprintf("activate-%s-%s", campaignID, uuid.New().String()[:8])

	existing, err := store.PendingScheduleForCampaign(ctx, s.store, campaignID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		cancelledAt := now.UTC()
		existing.Status = store.ScheduleCancelled
		existing.CancelledAt = &cancelledAt
		existing.SupersededBy = jobID
		if err := store.PutSchedule(ctx, s.store, existing); err != nil {
			return nil, err
		}
		s.logger.Info("superseding pending schedule",
			"campaign_id", campaignID,
			"old_job_id", existing.JobID,
			"new_job_id", jobID,
		)
	}

	job := &store.ScheduleRecord{
		JobID:      jobID,
		CampaignID: campaignID,
		RemoteID:   record.Remote.CampaignID,
		RunAt:      runAt.UTC(),
		Status:     store.SchedulePending,
		CreatedAt:  now.UTC(),
	}
	if err := store.PutSchedule(ctx, s.store, job); err != nil {
		return nil, err
	}

	s.refreshGauge(ctx)
	s.logger.Info("activation scheduled",
		"job_id", jobID,
		"campaign_id", campaignID,
		"run_at", job.RunAt.Format(time.RFC3339),
	)
	return job, nil
}

// Cancel marks a pending job cancelled. Cancelled jobs never fire.
// Cancelling only prevents future firing; it cannot interrupt a firing
// already in progress.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) (*store.ScheduleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := store.GetSchedule(ctx, s.store, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != store.SchedulePending {
		return nil, &NotPendingError{JobID: jobID, Status: job.Status}
	}

	cancelledAt := s.now().UTC()
	job.Status = store.ScheduleCancelled
	job.CancelledAt = &cancelledAt
	if err := store.PutSchedule(ctx, s.store, job); err != nil {
		return nil, err
	}

	s.refreshGauge(ctx)
	s.logger.Info("schedule cancelled", "job_id", jobID, "campaign_id", job.CampaignID)
	return job, nil
}

// CancelPendingForCampaign cancels the campaign's pending job, if any
func (s *Scheduler) CancelPendingForCampaign(ctx context.Context, campaignID string) (*store.ScheduleRecord, error) {
	pending, err := store.PendingScheduleForCampaign(ctx, s.store, campaignID)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, store.ErrNotFound
	}
	return s.Cancel(ctx, pending.JobID)
}

// ListPending returns all pending jobs ordered by scheduled instant
func (s *Scheduler) ListPending(ctx context.Context) ([]*store.ScheduleRecord, error) {
	records, err := store.ListSchedules(ctx, s.store)
	if err != nil {
		return nil, err
	}
	var pending []*store.ScheduleRecord
	for _, r := range records {
		if r.Status == store.SchedulePending {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

// Start launches the background firing loop
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting activation scheduler", "poll_interval", s.pollInterval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.FireDue(ctx)
			}
		}
	}()
}

// Stop stops the firing loop and waits for an in-flight firing to finish
func (s *Scheduler) Stop() {
	s.logger.Info("stopping activation scheduler")
	close(s.stopCh)
	s.wg.Wait()
}

// FireDue fires every pending job whose instant has passed. A failing
// job is recorded as failed and does not stop the remaining due jobs.
func (s *Scheduler) FireDue(ctx context.Context) {
	due, err := store.DueSchedules(ctx, s.store, s.now())
	if err != nil {
		s.logger.Error("failed to query due schedules", "error", err)
		return
	}
	for _, job := range due {
		s.fire(ctx, job.JobID)
	}
}

// fire executes one job. A job that is no longer pending is skipped;
// a fired job always leaves pending, to completed or failed.
func (s *Scheduler) fire(ctx context.Context, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-read: the job may have been cancelled or superseded since the
	// due scan.
	job, err := store.GetSchedule(ctx, s.store, jobID)
	if err != nil {
		s.logger.Error("failed to load job before firing", "job_id", jobID, "error", err)
		return
	}
	if job.Status != store.SchedulePending {
		if s.metrics != nil {
			s.metrics.ScheduleFired("skipped")
		}
		return
	}

	logger := s.logger.With("job_id", job.JobID, "campaign_id", job.CampaignID)
	logger.Info("firing scheduled activation", "run_at", job.RunAt.Format(time.RFC3339))

	fireCtx, cancel := context.WithTimeout(ctx, s.fireTimeout)
	_, err = s.activator.ActivateCampaign(fireCtx, job.CampaignID)
	cancel()

	executedAt := s.now().UTC()
	job.ExecutedAt = &executedAt
	if err != nil {
		job.Status = store.ScheduleFailed
		job.LastError = err.Error()
		logger.Error("scheduled activation failed", "error", err)
		if s.metrics != nil {
			s.metrics.ScheduleFired("failed")
		}
	} else {
		job.Status = store.ScheduleCompleted
		logger.Info("scheduled activation completed")
		if s.metrics != nil {
			s.metrics.ScheduleFired("completed")
		}
	}

	if putErr := s.persistOutcome(ctx, job); putErr != nil {
		logger.Error("failed to persist job outcome, job will re-fire as still pending",
			"error", putErr, "outcome", string(job.Status))
	}
	s.refreshGauge(ctx)
}

// persistOutcome retries the terminal-status write. Losing it leaves
// the job pending, and the next tick would re-fire an activation that
// already ran.
func (s *Scheduler) persistOutcome(ctx context.Context, job *store.ScheduleRecord) error {
	var err error
	for attempt := 1; attempt <= outcomePersistAttempts; attempt++ {
		if err = store.PutSchedule(ctx, s.store, job); err == nil {
			return nil
		}
		s.logger.Warn("retrying job outcome persist",
			"job_id", job.JobID, "attempt", attempt, "error", err)
	}
	return err
}

// Audit checks schedule metadata at startup and reports inconsistencies
// instead of silently ignoring them. Overdue pending jobs fire on the
// first tick; they were not lost across the restart.
func (s *Scheduler) Audit(ctx context.Context) error {
	records, err := store.ListSchedules(ctx, s.store)
	if err != nil {
		return err
	}

	now := s.now()
	pending := 0
	for _, job := range records {
		switch {
		case job.Status == store.SchedulePending && job.ExecutedAt != nil:
			s.logger.Error("inconsistent schedule record: pending with executed_at set",
				"job_id", job.JobID, "campaign_id", job.CampaignID)
		case job.Status == store.SchedulePending && job.RunAt.Before(now):
			s.logger.Warn("overdue pending job found at startup, will fire on next tick",
				"job_id", job.JobID,
				"campaign_id", job.CampaignID,
				"run_at", job.RunAt.Format(time.RFC3339),
			)
			pending++
		case job.Status == store.SchedulePending:
			pending++
		case (job.Status == store.ScheduleCompleted || job.Status == store.ScheduleFailed) && job.ExecutedAt == nil:
			s.logger.Error("inconsistent schedule record: terminal without executed_at",
				"job_id", job.JobID, "status", string(job.Status))
		}
	}

	if s.metrics != nil {
		s.metrics.SetPendingSchedules(pending)
	}
	s.logger.Info("schedule audit complete", "total", len(records), "pending", pending)
	return nil
}

func (s *Scheduler) refreshGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	records, err := store.ListSchedules(ctx, s.store)
	if err != nil {
		return
	}
	pending := 0
	for _, r := range records {
		if r.Status == store.SchedulePending {
			pending++
		}
	}
	s.metrics.SetPendingSchedules(pending)
}
