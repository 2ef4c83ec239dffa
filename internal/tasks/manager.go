package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ecash-console/go-client/internal/backend"
	"ecash-console/go-client/pkg/models"
)

var ErrUnknownTask = errors.New("unknown task")

// StatusClient is the slice of the backend client the manager needs.
type StatusClient interface {
	SubmitSearch(ctx context.Context, message, groupID string) (string, error)
	SearchStatus(ctx context.Context, taskID string) (backend.StatusResponse, error)
	PendingSearches(ctx context.Context) ([]backend.StatusResponse, error)
}

type Options struct {
	PollInterval time.Duration
	GraceDelay   time.Duration
	Logger       *slog.Logger
	// OnTerminal fires once per task when it reaches a terminal state.
	OnTerminal func(models.ActiveTask)
	// OnPollError fires when a status poll fails at the transport level.
	OnPollError func(error)
}

// Manager drives the task lifecycle: submit, poll until terminal, cancel,
// grace-delay removal. Each task owns one poll goroutine; tasks never affect
// each other's timers.
type Manager struct {
	client      StatusClient
	registry    *Registry
	interval    time.Duration
	grace       time.Duration
	logger      *slog.Logger
	onTerminal  func(models.ActiveTask)
	onPollError func(error)

	mu       sync.Mutex
	closed   bool
	polls    map[string]context.CancelFunc
	removals map[string]*time.Timer
	wg       sync.WaitGroup
}

func NewManager(client StatusClient, registry *Registry, opts Options) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.GraceDelay <= 0 {
		opts.GraceDelay = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		client:      client,
		registry:    registry,
		interval:    opts.PollInterval,
		grace:       opts.GraceDelay,
		logger:      opts.Logger,
		onTerminal:  opts.OnTerminal,
		onPollError: opts.OnPollError,
		polls:       make(map[string]context.CancelFunc),
		removals:    make(map[string]*time.Timer),
	}
}

// Submit starts a search job and begins tracking it.
func (m *Manager) Submit(ctx context.Context, message, groupID string) (models.ActiveTask, error) {
	id, err := m.client.SubmitSearch(ctx, message, groupID)
	if err != nil {
		return models.ActiveTask{}, err
	}
	now := time.Now().UTC()
	task := models.ActiveTask{
		ID:        id,
		Query:     message,
		GroupID:   groupID,
		Status:    models.TaskPending,
		CreatedAt: now,
		StartedAt: now,
	}
	m.registry.Add(task)
	m.startPolling(id)
	m.logger.Info("task submitted", "task_id", id)
	return task, nil
}

// Cancel stops a pending or processing task. Terminal tasks are a no-op.
func (m *Manager) Cancel(id string) error {
	task, ok := m.registry.Get(id)
	if !ok {
		return ErrUnknownTask
	}
	if task.Status.Terminal() {
		return nil
	}
	// Stop the poller first so an in-flight response is discarded instead of
	// reviving the task.
	m.stopPolling(id)
	updated, changed := m.registry.UpdateStatus(id, StatusUpdate{Status: models.TaskCancelled})
	if changed {
		m.notifyTerminal(updated)
		m.scheduleRemoval(id)
		m.logger.Info("task cancelled", "task_id", id)
	}
	return nil
}

// RestorePending re-attaches polling to tasks the backend still reports as
// running, e.g. after a reload.
func (m *Manager) RestorePending(ctx context.Context) (int, error) {
	pending, err := m.client.PendingSearches(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, st := range pending {
		if st.ID == "" {
			continue
		}
		if _, exists := m.registry.Get(st.ID); exists {
			continue
		}
		status := models.NormalizeTaskStatus(st.Status)
		if status.Terminal() {
			continue
		}
		task := models.ActiveTask{
			ID:        st.ID,
			Query:     st.Query,
			GroupID:   st.GroupID,
			Status:    status,
			CreatedAt: time.Now().UTC(),
		}
		if st.StartedAt != nil {
			task.StartedAt = *st.StartedAt
		}
		m.registry.Add(task)
		m.startPolling(st.ID)
		restored++
	}
	if restored > 0 {
		m.logger.Info("pending tasks restored", "count", restored)
	}
	return restored, nil
}

// Close stops every poll loop and removal timer and waits for them to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for id, cancel := range m.polls {
		cancel()
		delete(m.polls, id)
	}
	for id, timer := range m.removals {
		timer.Stop()
		delete(m.removals, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) startPolling(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if _, exists := m.polls[id]; exists {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.polls[id] = cancel
	m.wg.Add(1)
	go m.pollLoop(ctx, id)
}

func (m *Manager) stopPolling(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.polls[id]; ok {
		cancel()
		delete(m.polls, id)
	}
}

func (m *Manager) pollLoop(ctx context.Context, id string) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err := m.client.SearchStatus(ctx, id)

		// Cancel wins every race: a response that arrives after cancellation
		// is discarded, never applied.
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			if errors.Is(err, backend.ErrTaskNotFound) {
				// Normal terminal condition: the backend no longer knows the
				// task. Remove silently.
				m.stopPolling(id)
				m.registry.Remove(id)
				return
			}
			if m.onPollError != nil {
				m.onPollError(err)
			}
			msg := err.Error()
			m.finish(id, StatusUpdate{Status: models.TaskFailed, ErrorMessage: &msg})
			return
		}

		switch models.NormalizeTaskStatus(st.Status) {
		case models.TaskPending:
			// Still queued.
		case models.TaskProcessing:
			update := StatusUpdate{Status: models.TaskProcessing}
			if st.StartedAt != nil {
				update.StartedAt = st.StartedAt
			}
			m.registry.UpdateStatus(id, update)
		case models.TaskCompleted:
			response := st.Response
			m.finish(id, StatusUpdate{Status: models.TaskCompleted, Response: &response})
			return
		case models.TaskFailed:
			msg := st.ErrorMessage
			m.finish(id, StatusUpdate{Status: models.TaskFailed, ErrorMessage: &msg})
			return
		case models.TaskCancelled:
			m.finish(id, StatusUpdate{Status: models.TaskCancelled})
			return
		}

		// A tick that fired while the previous poll was in flight is dropped,
		// so one task never has overlapping polls.
		select {
		case <-ticker.C:
		default:
		}
	}
}

func (m *Manager) finish(id string, update StatusUpdate) {
	m.stopPolling(id)
	task, changed := m.registry.UpdateStatus(id, update)
	if changed {
		m.notifyTerminal(task)
		m.scheduleRemoval(id)
		if task.Status == models.TaskFailed {
			m.logger.Warn("task failed", "task_id", id)
		} else {
			m.logger.Info("task finished", "task_id", id, "status", task.Status)
		}
	}
}

func (m *Manager) notifyTerminal(task models.ActiveTask) {
	if m.onTerminal != nil {
		m.onTerminal(task)
	}
}

// scheduleRemoval keeps a terminal task visible for the grace delay before
// dropping it from the registry.
func (m *Manager) scheduleRemoval(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if _, exists := m.removals[id]; exists {
		return
	}
	m.removals[id] = time.AfterFunc(m.grace, func() {
		m.registry.Remove(id)
		m.mu.Lock()
		delete(m.removals, id)
		m.mu.Unlock()
	})
}
