package tasks

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"github.com/google/uuid"
)

var ErrTaskNotFound = errors.New("task not found")

// TaskRecord is the externally visible state of one queued account.
type TaskRecord struct {
	ID        uuid.UUID             `json:"id"`
	Account   string                `json:"account"`
	Proxy     string                `json:"proxy"`
	Status    taskstypes.TaskStatus `json:"status"`
	Zone      string                `json:"zone,omitempty"`
	Seats     int                   `json:"seats"`
	TicketID  string                `json:"ticket_id,omitempty"`
	Error     string                `json:"error,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Registry holds one record per task. Terminal statuses are never replaced.
type Registry struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*TaskRecord
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[uuid.UUID]*TaskRecord)}
}

func (r *Registry) Add(item taskstypes.WorkItem) uuid.UUID {
	now := time.Now()
	rec := &TaskRecord{
		ID:        uuid.New(),
		Account:   item.Account.Email,
		Proxy:     item.Proxy.Display(),
		Status:    taskstypes.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[rec.ID] = rec
	return rec.ID
}

// Update applies fn to the record unless it already reached a terminal status.
func (r *Registry) Update(id uuid.UUID, fn func(*TaskRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tasks[id]
	if !ok || rec.Status.Terminal() {
		return
	}
	fn(rec)
	rec.UpdatedAt = time.Now()
}

// Get returns a copy of the record.
func (r *Registry) Get(id uuid.UUID) (TaskRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.tasks[id]
	if !ok {
		return TaskRecord{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return *rec, nil
}

// List returns copies of all records in creation order.
func (r *Registry) List() []TaskRecord {
	r.mu.RLock()
	out := make([]TaskRecord, 0, len(r.tasks))
	for _, rec := range r.tasks {
		out = append(out, *rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Account < out[j].Account
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
