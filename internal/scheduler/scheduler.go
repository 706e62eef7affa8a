package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"cold-outreach-go/internal/config"
	"cold-outreach-go/internal/lock"
	"cold-outreach-go/internal/metrics"
	"cold-outreach-go/internal/model"
	"cold-outreach-go/internal/reconcile"
)

const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

// ErrRunInProgress is returned when another reconciliation run holds the
// run lock.
var ErrRunInProgress = errors.New("a reconciliation run is already in progress")

// Runner performs one reconciliation pass.
type Runner interface {
	Run(ctx context.Context, runID string) (reconcile.Result, error)
}

// RunStore records run history.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.ReconcileRun) error
	FinishRun(ctx context.Context, run *model.ReconcileRun) error
}

// Scheduler manages the periodic reply reconciliation
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	config    *config.SchedulerConfig
	job       Runner
	lock      lock.Locker
	runs      RunStore
	metrics   *metrics.Metrics
	wg        sync.WaitGroup
	isRunning bool
	lastRun   time.Time
	mu        sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *config.SchedulerConfig, job Runner, l lock.Locker, runs RunStore, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		config:  cfg,
		job:     job,
		lock:    l,
		runs:    runs,
		metrics: m,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if s.config.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	// A stopped cron cannot be restarted, so every Start gets a fresh one.
	s.cron = cron.New(cron.WithSeconds())
	schedule := fmt.Sprintf("@every %dm", s.config.IntervalMinutes)

	entryID, err := s.cron.AddFunc(schedule, s.runScheduled)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %d minutes", s.config.IntervalMinutes)
	return nil
}

// Stop stops scheduling new runs and waits for the cron goroutine. A run
// already in flight keeps going; use Wait to block on it.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) runScheduled() {
	if _, err := s.run(context.Background(), TriggerCron); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			logrus.Info("Previous reconciliation still running, skipping this tick")
			return
		}
		logrus.WithError(err).Error("Scheduled reconciliation failed")
	}
}

// RunOnce runs reconciliation immediately and returns its record. It
// returns ErrRunInProgress if another run holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (*model.ReconcileRun, error) {
	logrus.Info("Running reply reconciliation once")
	// The run outlives the caller's request.
	return s.run(context.WithoutCancel(ctx), TriggerManual)
}

func (s *Scheduler) run(ctx context.Context, trigger string) (*model.ReconcileRun, error) {
	unlock, err := s.lock.Acquire(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			s.metrics.ReconcileRuns.WithLabelValues("skipped").Inc()
			return nil, ErrRunInProgress
		}
		s.metrics.ReconcileRuns.WithLabelValues(model.RunStatusFailed).Inc()
		return nil, err
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			logrus.WithError(err).Warn("Failed to release run lock")
		}
	}()

	s.wg.Add(1)
	defer s.wg.Done()

	startTime := time.Now()
	record := &model.ReconcileRun{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		Status:    model.RunStatusRunning,
		StartedAt: startTime,
	}
	log := logrus.WithFields(logrus.Fields{"run_id": record.RunID, "trigger": trigger})
	log.Info("Starting reply reconciliation")

	if err := s.runs.CreateRun(ctx, record); err != nil {
		log.WithError(err).Warn("Failed to record run start")
	}

	result, runErr := s.job.Run(ctx, record.RunID)

	finished := time.Now()
	duration := finished.Sub(startTime)
	record.FinishedAt = &finished
	record.UsersSeen = result.UsersSeen
	record.UsersSkipped = result.UsersSkipped
	record.ThreadsChecked = result.ThreadsChecked
	record.ThreadFailures = result.ThreadFailures
	record.RepliesRecorded = result.RepliesRecorded
	record.Status = model.RunStatusCompleted
	if runErr != nil {
		record.Status = model.RunStatusFailed
		record.ErrorMsg = runErr.Error()
	}

	if err := s.runs.FinishRun(ctx, record); err != nil {
		log.WithError(err).Warn("Failed to record run result")
	}

	s.metrics.ReconcileRuns.WithLabelValues(record.Status).Inc()
	s.metrics.ReconcileDuration.Observe(duration.Seconds())

	s.mu.Lock()
	s.lastRun = startTime
	s.mu.Unlock()

	if runErr != nil {
		log.WithError(runErr).Errorf("Reply reconciliation failed after %v", duration)
		return record, runErr
	}

	log.Infof("Reply reconciliation completed in %v, %d new replies", duration, result.RepliesRecorded)
	return record, nil
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}

	entry := s.cron.Entry(s.entryID)
	return entry.Next
}

// GetLastRun returns when the most recent run started, scheduled or manual
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

// Wait waits for in-flight runs to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
