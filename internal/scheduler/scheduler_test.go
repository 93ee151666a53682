package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/piwardrive/piwardrive/internal/domain"
	"github.com/piwardrive/piwardrive/internal/queue"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	cfg := queue.DefaultConfig()
	cfg.Workers = 2
	q := queue.New(cfg)
	t.Cleanup(func() { q.Shutdown(time.Second) })
	return q
}

func TestRegister_RejectsInvalidInterval(t *testing.T) {
	s := New(newTestQueue(t))
	err := s.Register("bad", 0, func(ctx context.Context) error { return nil }, domain.PriorityNormal, 0.1)
	if err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestRegister_RejectsInvalidJitter(t *testing.T) {
	s := New(newTestQueue(t))
	err := s.Register("bad", 1, func(ctx context.Context) error { return nil }, domain.PriorityNormal, 1.5)
	if err == nil {
		t.Fatal("expected error for jitter out of range")
	}
}

func TestRun_InvokesJobAtDueTime(t *testing.T) {
	s := New(newTestQueue(t))
	var calls int32
	err := s.Register("tick", 0.05, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, domain.PriorityNormal, 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&calls) >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job invoked only %d times", atomic.LoadInt32(&calls))
}

func TestRun_NeverRunsSameJobConcurrently(t *testing.T) {
	s := New(newTestQueue(t))
	var mu sync.Mutex
	running := false
	violated := false

	err := s.Register("slow", 0.03, func(ctx context.Context) error {
		mu.Lock()
		if running {
			violated = true
		}
		running = true
		mu.Unlock()

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		running = false
		mu.Unlock()
		return nil
	}, domain.PriorityNormal, 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if violated {
		t.Fatal("job ran concurrently with itself")
	}
}

func TestDisable_AfterConsecutiveFailures(t *testing.T) {
	s := New(newTestQueue(t))
	err := s.Register("failing", 0.02, func(ctx context.Context) error {
		return errors.New("boom")
	}, domain.PriorityNormal, 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) {
		stats := s.Metrics()
		for _, st := range stats {
			if st.Name == "failing" && st.State == domain.JobDisabled {
				if st.ConsecutiveFails < ConsecutiveFailureLimit {
					t.Fatalf("disabled early at %d failures", st.ConsecutiveFails)
				}
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job never disabled after repeated failures")
}

func TestEnable_ResetsDisabledJob(t *testing.T) {
	s := New(newTestQueue(t))
	if err := s.Register("j", 10, func(ctx context.Context) error { return nil }, domain.PriorityNormal, 0); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Enable("nonexistent"); err == nil {
		t.Fatal("expected NotFoundError for unknown job")
	}
	if err := s.Enable("j"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	stats := s.Metrics()
	if len(stats) != 1 || stats[0].State != domain.JobScheduled {
		t.Fatalf("stats = %+v, want one Scheduled job", stats)
	}
}

func TestAdjustGPSInterval_Monotonic(t *testing.T) {
	min, max, threshold := 1.0, 30.0, 10.0

	if got := AdjustGPSInterval(0, threshold, min, max, threshold); got != min {
		t.Fatalf("at threshold: got %v, want %v", got, min)
	}
	if got := AdjustGPSInterval(0, 0, min, max, threshold); got != max {
		t.Fatalf("at zero speed: got %v, want %v", got, max)
	}
	if got := AdjustGPSInterval(0, threshold*2, min, max, threshold); got != min {
		t.Fatalf("above threshold: got %v, want %v", got, min)
	}

	prev := max
	for speed := 0.0; speed <= threshold; speed += 1.0 {
		got := AdjustGPSInterval(0, speed, min, max, threshold)
		if got > prev {
			t.Fatalf("not monotonic decreasing: speed=%v got=%v prev=%v", speed, got, prev)
		}
		prev = got
	}
}

func TestRegister_ReplacesExistingJob(t *testing.T) {
	s := New(newTestQueue(t))
	var firstCalls, secondCalls int32
	if err := s.Register("j", 10, func(ctx context.Context) error {
		atomic.AddInt32(&firstCalls, 1)
		return nil
	}, domain.PriorityNormal, 0); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register("j", 10, func(ctx context.Context) error {
		atomic.AddInt32(&secondCalls, 1)
		return nil
	}, domain.PriorityNormal, 0); err != nil {
		t.Fatalf("Register: %v", err)
	}
	stats := s.Metrics()
	if len(stats) != 1 {
		t.Fatalf("expected exactly one job after re-registration, got %d", len(stats))
	}
}
