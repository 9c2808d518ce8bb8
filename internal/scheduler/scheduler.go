// Package scheduler runs the service's background jobs: daily jobs at a fixed
// UTC hour and interval jobs on their own tickers. It is an ordinary value
// owned by main; nothing here is global.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/richardliu001/subscription-webhooks/internal/pkg/clock"
	"go.uber.org/zap"
)

// Job is one unit of scheduled work. Errors and panics are logged and never
// reach other jobs.
type Job func(ctx context.Context) error

// DefaultTick is the resolution of daily jobs.
const DefaultTick = time.Minute

type runState struct {
	lastRunAt *time.Time
	lastError string
}

type dailyJob struct {
	name string
	hour int
	fn   Job
	next time.Time
	runState
}

type intervalJob struct {
	name  string
	every time.Duration
	fn    Job
	runState
}

// Scheduler owns a set of jobs and the goroutines that run them.
type Scheduler struct {
	mu       sync.Mutex
	clock    clock.Clock
	log      *zap.SugaredLogger
	tick     time.Duration
	daily    []*dailyJob
	interval []*intervalJob

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New returns a stopped scheduler. tick <= 0 falls back to DefaultTick.
func New(clk clock.Clock, tick time.Duration, log *zap.SugaredLogger) *Scheduler {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{clock: clk, tick: tick, log: log.Named("scheduler")}
}

// AddDailyJob runs fn once a day at hourUTC:00.
func (s *Scheduler) AddDailyJob(name string, hourUTC int, fn Job) error {
	if hourUTC < 0 || hourUTC > 23 {
		return fmt.Errorf("daily job %s: hour %d out of range", name, hourUTC)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job := &dailyJob{name: name, hour: hourUTC, fn: fn, next: nextDailyRun(s.clock.Now(), hourUTC)}
	s.daily = append(s.daily, job)
	s.log.Infow("daily job registered", "job", name, "next_run", job.next)
	return nil
}

// AddIntervalJob runs fn every period. The first run happens as soon as the
// job is active: on Start, or right away when the scheduler already runs.
func (s *Scheduler) AddIntervalJob(name string, every time.Duration, fn Job) error {
	if every <= 0 {
		return fmt.Errorf("interval job %s: period must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job := &intervalJob{name: name, every: every, fn: fn}
	s.interval = append(s.interval, job)
	s.log.Infow("interval job registered", "job", name, "every", every.String())
	if s.running {
		s.startInterval(job)
	}
	return nil
}

// Start launches every job. Calling it on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Warn("scheduler already running")
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for _, job := range s.interval {
		s.startInterval(job)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.runDue(s.ctx)
			}
		}
	}()
	s.log.Infow("scheduler started", "daily_jobs", len(s.daily), "interval_jobs", len(s.interval))
}

// Stop cancels every job and waits for in-flight runs. Safe to call twice.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// must hold s.mu
func (s *Scheduler) startInterval(job *intervalJob) {
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, job.name, job.fn, &job.runState)
		ticker := time.NewTicker(job.every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.run(ctx, job.name, job.fn, &job.runState)
			}
		}
	}()
}

// runDue runs every daily job whose next run has arrived and moves it a day on.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.clock.Now()
	s.mu.Lock()
	var due []*dailyJob
	for _, job := range s.daily {
		if !job.next.After(now) {
			job.next = job.next.Add(24 * time.Hour)
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.run(ctx, job.name, job.fn, &job.runState)
	}
}

func (s *Scheduler) run(ctx context.Context, name string, fn Job, state *runState) {
	start := s.clock.Now()
	err := safeCall(ctx, fn)

	s.mu.Lock()
	state.lastRunAt = &start
	state.lastError = ""
	if err != nil {
		state.lastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Errorw("job failed", "job", name, "error", err)
		return
	}
	s.log.Debugw("job finished", "job", name)
}

func safeCall(ctx context.Context, fn Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func nextDailyRun(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// JobStatus describes a daily job.
type JobStatus struct {
	Name        string     `json:"name"`
	NextRunTime time.Time  `json:"nextRunTime"`
	LastRunAt   *time.Time `json:"lastRunAt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// IntervalJobStatus describes an interval job.
type IntervalJobStatus struct {
	Name      string     `json:"name"`
	Every     string     `json:"every"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

// Status is a snapshot for operators.
type Status struct {
	Running      bool                `json:"running"`
	Jobs         []JobStatus         `json:"jobs"`
	IntervalJobs []IntervalJobStatus `json:"intervalJobs"`
}

// Status reports the registered jobs, daily jobs ordered by next run.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Running:      s.running,
		Jobs:         make([]JobStatus, 0, len(s.daily)),
		IntervalJobs: make([]IntervalJobStatus, 0, len(s.interval)),
	}
	for _, job := range s.daily {
		st.Jobs = append(st.Jobs, JobStatus{
			Name: job.name, NextRunTime: job.next,
			LastRunAt: job.lastRunAt, LastError: job.lastError,
		})
	}
	sort.SliceStable(st.Jobs, func(i, j int) bool { return st.Jobs[i].NextRunTime.Before(st.Jobs[j].NextRunTime) })
	for _, job := range s.interval {
		st.IntervalJobs = append(st.IntervalJobs, IntervalJobStatus{
			Name: job.name, Every: job.every.String(),
			LastRunAt: job.lastRunAt, LastError: job.lastError,
		})
	}
	return st
}
