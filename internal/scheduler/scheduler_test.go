package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/fleetctl/internal/natsbus"
	"github.com/mtzanidakis/fleetctl/internal/schedule"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakePub struct {
	topics []string
	events []any
}

func (p *fakePub) PublishJSON(topic string, v any) error {
	p.topics = append(p.topics, topic)
	p.events = append(p.events, v)
	return nil
}

func mustParse(t *testing.T, raw string) *schedule.Schedule {
	t.Helper()
	s, err := schedule.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return s
}

func TestPollRunsDueJobs(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	pub := &fakePub{}
	s := New(time.Second, WithClock(clock.Now), WithPublisher(pub))

	runs := 0
	err := s.Add(Job{Name: "report", Schedule: mustParse(t, "@every 10s"), Run: func(context.Context) error {
		runs++
		return nil
	}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	s.Poll(context.Background())
	if runs != 0 {
		t.Fatalf("expected no run before the first period, got %d", runs)
	}

	clock.Advance(10 * time.Second)
	s.Poll(context.Background())
	s.Poll(context.Background())
	if runs != 1 {
		t.Fatalf("expected 1 run, got %d", runs)
	}

	jobs := s.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].LastStatus != "success" || jobs[0].Runs != 1 {
		t.Errorf("unexpected status: %+v", jobs[0])
	}
	if want := clock.Now().Add(10 * time.Second); !jobs[0].NextRun.Equal(want) {
		t.Errorf("expected next run %v, got %v", want, jobs[0].NextRun)
	}
	if len(pub.topics) != 1 || pub.topics[0] != natsbus.TopicEventsJobs {
		t.Errorf("expected one job event, got %v", pub.topics)
	}
}

func TestJobErrorIsRecorded(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := New(time.Second, WithClock(clock.Now))
	_ = s.Add(Job{Name: "broken", Schedule: mustParse(t, "@every 1s"), Run: func(context.Context) error {
		return errors.New("boom")
	}})

	clock.Advance(time.Second)
	s.Poll(context.Background())

	st := s.Jobs()[0]
	if st.LastStatus != "error" || st.LastError != "boom" {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestAddRejectsIncompleteJob(t *testing.T) {
	s := New(time.Second)
	if err := s.Add(Job{Name: "x"}); err == nil {
		t.Error("expected error for job without schedule")
	}
}

func TestRescheduleKeepsHistory(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := New(time.Second, WithClock(clock.Now))
	_ = s.Add(Job{Name: "report", Schedule: mustParse(t, "@every 1s"), Run: func(context.Context) error { return nil }})
	clock.Advance(time.Second)
	s.Poll(context.Background())

	if err := s.Reschedule("report", mustParse(t, "@every 1m")); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	st := s.Jobs()[0]
	if st.Runs != 1 {
		t.Errorf("expected run history kept, got %d", st.Runs)
	}
	if st.Schedule != "Every minute" {
		t.Errorf("expected new schedule, got %q", st.Schedule)
	}
	if err := s.Reschedule("missing", mustParse(t, "@every 1m")); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	s := New(5 * time.Millisecond)
	ran := make(chan struct{}, 1)
	_ = s.Add(Job{Name: "tick", Schedule: mustParse(t, "@every 1ms"), Run: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
	s.UpdateConfig(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
