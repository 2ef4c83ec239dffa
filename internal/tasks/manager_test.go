package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ecash-console/go-client/internal/backend"
	"ecash-console/go-client/pkg/models"
)

// fakeClient scripts backend status answers per task. The optional gate
// blocks SearchStatus so tests can race cancellation against an in-flight
// poll.
type fakeClient struct {
	mu       sync.Mutex
	nextID   int
	statuses map[string]func(call int) (backend.StatusResponse, error)
	calls    map[string]int
	pending  []backend.StatusResponse
	gate     chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		statuses: make(map[string]func(int) (backend.StatusResponse, error)),
		calls:    make(map[string]int),
	}
}

func (c *fakeClient) script(id string, fn func(call int) (backend.StatusResponse, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[id] = fn
}

func (c *fakeClient) SubmitSearch(_ context.Context, _, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return "task-" + string(rune('0'+c.nextID)), nil
}

func (c *fakeClient) SearchStatus(_ context.Context, id string) (backend.StatusResponse, error) {
	c.mu.Lock()
	fn := c.statuses[id]
	c.calls[id]++
	call := c.calls[id]
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if fn == nil {
		return backend.StatusResponse{ID: id, Status: "pending"}, nil
	}
	return fn(call)
}

func (c *fakeClient) PendingSearches(context.Context) ([]backend.StatusResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]backend.StatusResponse(nil), c.pending...), nil
}

func (c *fakeClient) callCount(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func newTestManager(t *testing.T, client *fakeClient, grace time.Duration) (*Manager, *Registry) {
	t.Helper()
	registry := NewRegistry(nil)
	m := NewManager(client, registry, Options{
		PollInterval: 5 * time.Millisecond,
		GraceDelay:   grace,
		Logger:       slog.New(slog.DiscardHandler),
	})
	t.Cleanup(m.Close)
	return m, registry
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSubmitPollsToCompletion(t *testing.T) {
	client := newFakeClient()
	m, registry := newTestManager(t, client, time.Hour)

	task, err := m.Submit(context.Background(), "find mints", "g1")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if task.Status != models.TaskPending {
		t.Fatalf("fresh task must be pending, got %q", task.Status)
	}

	started := time.Now().UTC()
	client.script(task.ID, func(call int) (backend.StatusResponse, error) {
		switch call {
		case 1:
			return backend.StatusResponse{ID: task.ID, Status: "processing", StartedAt: &started}, nil
		default:
			return backend.StatusResponse{ID: task.ID, Status: "completed", Response: "result-body"}, nil
		}
	})

	waitFor(t, "completion", func() bool {
		got, ok := registry.Get(task.ID)
		return ok && got.Status == models.TaskCompleted
	})
	got, _ := registry.Get(task.ID)
	if got.Response != "result-body" {
		t.Fatalf("completed task must carry the response, got %+v", got)
	}
}

func TestTerminalTaskRemovedAfterGraceDelay(t *testing.T) {
	client := newFakeClient()
	m, registry := newTestManager(t, client, 20*time.Millisecond)

	task, _ := m.Submit(context.Background(), "q", "g1")
	client.script(task.ID, func(int) (backend.StatusResponse, error) {
		return backend.StatusResponse{ID: task.ID, Status: "completed"}, nil
	})

	waitFor(t, "terminal state", func() bool {
		got, ok := registry.Get(task.ID)
		return ok && got.Status == models.TaskCompleted
	})
	// Still visible during the grace window, gone afterwards.
	if _, ok := registry.Get(task.ID); !ok {
		t.Fatal("task must stay visible for the grace delay")
	}
	waitFor(t, "grace removal", func() bool {
		_, ok := registry.Get(task.ID)
		return !ok
	})
}

func TestPollNotFoundRemovesSilently(t *testing.T) {
	client := newFakeClient()
	m, registry := newTestManager(t, client, time.Hour)

	task, _ := m.Submit(context.Background(), "q", "g1")
	client.script(task.ID, func(int) (backend.StatusResponse, error) {
		return backend.StatusResponse{}, backend.ErrTaskNotFound
	})

	waitFor(t, "silent removal", func() bool {
		_, ok := registry.Get(task.ID)
		return !ok
	})
	// Removed without passing through failed: nothing remains to inspect, and
	// no grace timer holds it.
}

func TestPollTransportErrorMarksFailedAndStopsTimer(t *testing.T) {
	client := newFakeClient()
	m, registry := newTestManager(t, client, time.Hour)

	task, _ := m.Submit(context.Background(), "q", "g1")
	client.script(task.ID, func(int) (backend.StatusResponse, error) {
		return backend.StatusResponse{}, errors.New("connection reset")
	})

	waitFor(t, "failed state", func() bool {
		got, ok := registry.Get(task.ID)
		return ok && got.Status == models.TaskFailed
	})
	got, _ := registry.Get(task.ID)
	if got.ErrorMessage == "" {
		t.Fatal("failed task must surface the transport error message")
	}

	calls := client.callCount(task.ID)
	time.Sleep(30 * time.Millisecond)
	if client.callCount(task.ID) != calls {
		t.Fatal("poll timer must stop after a transport failure")
	}
}

func TestCancelIsIndependentAcrossTasks(t *testing.T) {
	client := newFakeClient()
	m, registry := newTestManager(t, client, time.Hour)

	t1, _ := m.Submit(context.Background(), "q1", "g1")
	t2, _ := m.Submit(context.Background(), "q2", "g1")

	if err := m.Cancel(t1.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	got1, _ := registry.Get(t1.ID)
	if got1.Status != models.TaskCancelled {
		t.Fatalf("t1 must be cancelled, got %q", got1.Status)
	}

	got2, ok := registry.Get(t2.ID)
	if !ok || got2.Status.Terminal() {
		t.Fatalf("t2 must be untouched, got ok=%v status=%q", ok, got2.Status)
	}
	before := client.callCount(t2.ID)
	waitFor(t, "t2 keeps polling", func() bool {
		return client.callCount(t2.ID) > before
	})

	calls1 := client.callCount(t1.ID)
	time.Sleep(30 * time.Millisecond)
	if client.callCount(t1.ID) != calls1 {
		t.Fatal("cancelled task must stop polling")
	}
}

func TestCancelTerminalTaskIsNoOp(t *testing.T) {
	client := newFakeClient()
	m, registry := newTestManager(t, client, time.Hour)

	task, _ := m.Submit(context.Background(), "q", "g1")
	client.script(task.ID, func(int) (backend.StatusResponse, error) {
		return backend.StatusResponse{ID: task.ID, Status: "completed"}, nil
	})
	waitFor(t, "completion", func() bool {
		got, _ := registry.Get(task.ID)
		return got.Status == models.TaskCompleted
	})

	if err := m.Cancel(task.ID); err != nil {
		t.Fatalf("cancelling a terminal task must be a no-op, got %v", err)
	}
	got, _ := registry.Get(task.ID)
	if got.Status != models.TaskCompleted {
		t.Fatalf("terminal status must not change, got %q", got.Status)
	}

	if err := m.Cancel("ghost"); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestCancelBeatsLatePollResponse(t *testing.T) {
	client := newFakeClient()
	m, registry := newTestManager(t, client, time.Hour)

	task, _ := m.Submit(context.Background(), "q", "g1")
	gate := make(chan struct{})
	client.mu.Lock()
	client.gate = gate
	client.mu.Unlock()
	client.script(task.ID, func(int) (backend.StatusResponse, error) {
		return backend.StatusResponse{ID: task.ID, Status: "completed", Response: "late"}, nil
	})

	// Wait until a poll is in flight (blocked on the gate), then cancel.
	waitFor(t, "in-flight poll", func() bool {
		return client.callCount(task.ID) >= 1
	})
	if err := m.Cancel(task.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	close(gate)

	// The late completed response must be discarded.
	time.Sleep(20 * time.Millisecond)
	got, ok := registry.Get(task.ID)
	if !ok {
		t.Fatal("cancelled task must remain visible for the grace delay")
	}
	if got.Status != models.TaskCancelled {
		t.Fatalf("cancel must win the race, got %q", got.Status)
	}
	if got.Response != "" {
		t.Fatal("late response body must not be applied")
	}
}

func TestRestorePendingReattachesPolling(t *testing.T) {
	client := newFakeClient()
	m, registry := newTestManager(t, client, time.Hour)

	started := time.Now().UTC()
	client.mu.Lock()
	client.pending = []backend.StatusResponse{
		{ID: "old-1", Status: "pending", Query: "q1", GroupID: "g1"},
		{ID: "old-2", Status: "processing", Query: "q2", StartedAt: &started},
		{ID: "old-3", Status: "completed", Query: "q3"},
	}
	client.mu.Unlock()

	restored, err := m.RestorePending(context.Background())
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if restored != 2 {
		t.Fatalf("expected 2 restored tasks, got %d", restored)
	}
	if _, ok := registry.Get("old-3"); ok {
		t.Fatal("terminal backend entries must not be restored")
	}

	waitFor(t, "restored tasks polling", func() bool {
		return client.callCount("old-1") > 0 && client.callCount("old-2") > 0
	})

	// Idempotent for already-tracked tasks.
	again, err := m.RestorePending(context.Background())
	if err != nil || again != 0 {
		t.Fatalf("second restore must attach nothing: n=%d err=%v", again, err)
	}
}

func TestOnTerminalFiresOnce(t *testing.T) {
	client := newFakeClient()
	registry := NewRegistry(nil)
	var mu sync.Mutex
	fired := map[string]int{}
	m := NewManager(client, registry, Options{
		PollInterval: 5 * time.Millisecond,
		GraceDelay:   time.Hour,
		Logger:       slog.New(slog.DiscardHandler),
		OnTerminal: func(task models.ActiveTask) {
			mu.Lock()
			fired[task.ID]++
			mu.Unlock()
		},
	})
	t.Cleanup(m.Close)

	task, _ := m.Submit(context.Background(), "q", "g1")
	client.script(task.ID, func(int) (backend.StatusResponse, error) {
		return backend.StatusResponse{ID: task.ID, Status: "completed"}, nil
	})
	waitFor(t, "terminal callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired[task.ID] == 1
	})
	_ = m.Cancel(task.ID) // no-op, must not fire again
	mu.Lock()
	defer mu.Unlock()
	if fired[task.ID] != 1 {
		t.Fatalf("terminal callback must fire exactly once, got %d", fired[task.ID])
	}
}
