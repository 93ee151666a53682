package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/piwardrive/piwardrive/internal/domain"
)

func TestEnqueue_RunsBody(t *testing.T) {
	q := New(DefaultConfig())
	defer q.Shutdown(time.Second)

	ran := make(chan struct{})
	h, err := q.Enqueue(context.Background(), func(ctx context.Context) error {
		close(ran)
		return nil
	}, domain.PriorityNormal, time.Time{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("body never ran")
	}

	res, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Status != domain.TaskCompleted {
		t.Fatalf("status = %v, want Completed", res.Status)
	}
}

func TestEnqueue_PriorityOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 1
	q := New(cfg)
	defer q.Shutdown(time.Second)

	var mu sync.Mutex
	var order []string
	release := make(chan struct{})

	// Block the single worker on a first task so the rest queue up.
	blockHandle, _ := q.Enqueue(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	}, domain.PriorityNormal, time.Time{})

	done := make(chan struct{})
	record := func(name string) domain.TaskBody {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	hLow, _ := q.Enqueue(context.Background(), record("low"), domain.PriorityLow, time.Time{})
	hCrit, _ := q.Enqueue(context.Background(), record("critical"), domain.PriorityCritical, time.Time{})
	hNorm, _ := q.Enqueue(context.Background(), record("normal"), domain.PriorityNormal, time.Time{})

	go func() {
		hCrit.Wait(context.Background())
		hNorm.Wait(context.Background())
		hLow.Wait(context.Background())
		close(done)
	}()

	close(release)
	blockHandle.Wait(context.Background())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"critical", "normal", "low"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestEnqueue_RejectNewWhenFull(t *testing.T) {
	cfg := Config{Capacity: 1, Workers: 1, FullPolicy: RejectNew}
	q := New(cfg)
	defer q.Shutdown(time.Second)

	release := make(chan struct{})
	q.Enqueue(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	}, domain.PriorityNormal, time.Time{})

	// Worker picks up the first task; a running task still counts against
	// Capacity until it finishes, so every further Enqueue is rejected.
	time.Sleep(20 * time.Millisecond)
	q.Enqueue(context.Background(), func(ctx context.Context) error { return nil }, domain.PriorityNormal, time.Time{})

	_, err := q.Enqueue(context.Background(), func(ctx context.Context) error { return nil }, domain.PriorityNormal, time.Time{})
	close(release)
	if err == nil {
		t.Fatal("expected QueueFullError")
	}
	derr, ok := err.(*domain.Error)
	if !ok || derr.Kind != domain.KindQueueFull {
		t.Fatalf("err = %v, want QueueFullError", err)
	}
}

func TestCancel_QueuedTaskNeverRuns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 1
	q := New(cfg)
	defer q.Shutdown(time.Second)

	release := make(chan struct{})
	q.Enqueue(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	}, domain.PriorityNormal, time.Time{})

	ranSecond := false
	h2, _ := q.Enqueue(context.Background(), func(ctx context.Context) error {
		ranSecond = true
		return nil
	}, domain.PriorityNormal, time.Time{})

	h2.Cancel()
	res, err := h2.Wait(context.Background())
	close(release)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Status != domain.TaskCancelled {
		t.Fatalf("status = %v, want Cancelled", res.Status)
	}
	time.Sleep(20 * time.Millisecond)
	if ranSecond {
		t.Fatal("cancelled task body ran")
	}
}

func TestCancel_RunningTaskObservesContext(t *testing.T) {
	q := New(DefaultConfig())
	defer q.Shutdown(time.Second)

	started := make(chan struct{})
	h, _ := q.Enqueue(context.Background(), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, domain.PriorityNormal, time.Time{})

	<-started
	h.Cancel()

	res, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Status != domain.TaskCancelled {
		t.Fatalf("status = %v, want Cancelled", res.Status)
	}
}

func TestExpiredTask_NeverRuns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 1
	q := New(cfg)
	defer q.Shutdown(time.Second)

	release := make(chan struct{})
	q.Enqueue(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	}, domain.PriorityNormal, time.Time{})

	ran := false
	h, _ := q.Enqueue(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	}, domain.PriorityNormal, time.Now().Add(-time.Second))

	close(release)
	res, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Status != domain.TaskExpired {
		t.Fatalf("status = %v, want Expired", res.Status)
	}
	if ran {
		t.Fatal("expired task body ran")
	}
}

func TestShutdown_IsIdempotent(t *testing.T) {
	q := New(DefaultConfig())
	q.Shutdown(100 * time.Millisecond)
	q.Shutdown(100 * time.Millisecond) // must not panic or block
}

func TestFailedTask_ReportsError(t *testing.T) {
	q := New(DefaultConfig())
	defer q.Shutdown(time.Second)

	wantErr := errors.New("boom")
	h, _ := q.Enqueue(context.Background(), func(ctx context.Context) error {
		return wantErr
	}, domain.PriorityNormal, time.Time{})

	res, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Status != domain.TaskFailed || res.Err != wantErr {
		t.Fatalf("res = %+v, want Failed/%v", res, wantErr)
	}
}
