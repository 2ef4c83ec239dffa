package tasks

import (
	"sync"
	"time"

	"ecash-console/go-client/pkg/models"
)

// StatusUpdate is a partial task mutation. Nil pointer fields are left
// untouched.
type StatusUpdate struct {
	Status       models.TaskStatus
	StartedAt    *time.Time
	ErrorMessage *string
	Response     *string
}

// Registry is the in-memory reactive set of tracked tasks. All mutation goes
// through its methods; status transitions are monotonic and terminal states
// are final.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]models.ActiveTask
	hub   *Hub
}

func NewRegistry(hub *Hub) *Registry {
	return &Registry{
		tasks: make(map[string]models.ActiveTask),
		hub:   hub,
	}
}

func (r *Registry) Add(task models.ActiveTask) {
	r.mu.Lock()
	r.tasks[task.ID] = task
	r.mu.Unlock()
	r.hub.Publish(task, false)
}

// UpdateStatus applies a partial update and reports whether it took effect.
// An update that would transition out of a terminal state is refused and the
// stored task is returned unchanged.
func (r *Registry) UpdateStatus(id string, update StatusUpdate) (models.ActiveTask, bool) {
	r.mu.Lock()
	task, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return models.ActiveTask{}, false
	}
	if task.Status.Terminal() && update.Status != task.Status {
		r.mu.Unlock()
		return task, false
	}
	if update.Status != "" {
		task.Status = update.Status
	}
	if update.StartedAt != nil {
		task.StartedAt = *update.StartedAt
	}
	if update.ErrorMessage != nil {
		task.ErrorMessage = *update.ErrorMessage
	}
	if update.Response != nil {
		task.Response = *update.Response
	}
	r.tasks[id] = task
	r.mu.Unlock()
	r.hub.Publish(task, false)
	return task, true
}

func (r *Registry) Get(id string) (models.ActiveTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[id]
	return task, ok
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	task, ok := r.tasks[id]
	if ok {
		delete(r.tasks, id)
	}
	r.mu.Unlock()
	if ok {
		r.hub.Publish(task, true)
	}
	return ok
}

// ListActive snapshots the full tracked set. No ordering guarantee.
func (r *Registry) ListActive() []models.ActiveTask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ActiveTask, 0, len(r.tasks))
	for _, task := range r.tasks {
		out = append(out, task)
	}
	return out
}
