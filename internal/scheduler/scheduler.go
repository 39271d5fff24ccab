// Package scheduler runs named periodic jobs (the fleet status report and
// friends) against schedule.Schedule timings.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mtzanidakis/fleetctl/internal/natsbus"
	"github.com/mtzanidakis/fleetctl/internal/schedule"
)

// Job is one periodic unit of work.
type Job struct {
	Name     string
	Schedule *schedule.Schedule
	Run      func(ctx context.Context) error
}

// Publisher is the part of natsbus.Client the scheduler needs.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// Status describes a job's last and next run.
type Status struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	NextRun    time.Time `json:"next_run"`
	LastRun    time.Time `json:"last_run,omitempty"`
	LastStatus string    `json:"last_status,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Runs       int       `json:"runs"`
}

type entry struct {
	job    Job
	status Status
}

type Scheduler struct {
	mu           sync.Mutex
	jobs         map[string]*entry
	pollInterval time.Duration
	pub          Publisher
	now          func() time.Time
	reloadCh     chan struct{}
}

type Option func(*Scheduler)

// WithPublisher announces every job execution on the event bus.
func WithPublisher(p Publisher) Option {
	return func(s *Scheduler) { s.pub = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(pollInterval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:         make(map[string]*entry),
		pollInterval: pollInterval,
		now:          time.Now,
		reloadCh:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Add registers job, or replaces the job with the same name. The first run
// is one schedule period from now.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Schedule == nil || job.Run == nil {
		return fmt.Errorf("job needs a name, schedule and run func")
	}
	next, err := job.Schedule.Next(s.now())
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Name: job.Name, Schedule: job.Schedule.String(), NextRun: next}
	if old, ok := s.jobs[job.Name]; ok {
		st.LastRun = old.status.LastRun
		st.LastStatus = old.status.LastStatus
		st.LastError = old.status.LastError
		st.Runs = old.status.Runs
	}
	s.jobs[job.Name] = &entry{job: job, status: st}
	return nil
}

// Reschedule swaps the schedule of an existing job.
func (s *Scheduler) Reschedule(name string, sched *schedule.Schedule) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	job := e.job
	job.Schedule = sched
	return s.Add(job)
}

// Jobs returns the status of every job sorted by name.
func (s *Scheduler) Jobs() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.status)
	}
	slices.SortFunc(out, func(a, b Status) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// UpdateConfig changes the poll interval and signals the run loop to reset
// its ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration) {
	s.mu.Lock()
	s.pollInterval = pollInterval
	s.mu.Unlock()
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollInterval <= 0 {
		return time.Second
	}
	return s.pollInterval
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.interval(), "jobs", len(s.Jobs()))

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.interval())
			slog.Info("scheduler config reloaded", "poll_interval", s.interval())
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll runs every job that is due.
func (s *Scheduler) Poll(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	var due []*entry
	for _, e := range s.jobs {
		if !now.Before(e.status.NextRun) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.execute(ctx, e, now)
	}
}

func (s *Scheduler) execute(ctx context.Context, e *entry, now time.Time) {
	err := e.job.Run(ctx)

	status := "success"
	if err != nil {
		status = "error"
		slog.Error("job execution failed", "job", e.job.Name, "error", err)
	}

	next, nerr := e.job.Schedule.Next(now)
	if nerr != nil {
		slog.Error("failed to compute next run", "job", e.job.Name, "error", nerr)
		next = now.Add(s.interval())
	}

	s.mu.Lock()
	e.status.LastRun = now
	e.status.LastStatus = status
	e.status.LastError = ""
	if err != nil {
		e.status.LastError = err.Error()
	}
	e.status.NextRun = next
	e.status.Runs++
	s.mu.Unlock()

	s.publishJobExecutedEvent(e.job.Name, status, now)
}

func (s *Scheduler) publishJobExecutedEvent(name, status string, at time.Time) {
	if s.pub == nil {
		return
	}
	event := map[string]any{
		"type":      "job_executed",
		"timestamp": at.UTC().Format(time.RFC3339),
		"data": map[string]any{
			"name":   name,
			"status": status,
		},
	}
	_ = s.pub.PublishJSON(natsbus.TopicEventsJobs, event)
}
