package engine

import (
	"sort"
	"sync"
	"time"
)

// HealthState is the session health reported to the hosting platform.
type HealthState string

// Health states. The platform keeps a busy session alive and may reclaim an
// idle one.
const (
	HealthIdle HealthState = "Healthy"
	HealthBusy HealthState = "HealthyBusy"
)

// TaskInfo describes one outstanding background task.
type TaskInfo struct {
	TaskID    string    `json:"task_id"`
	ResultKey string    `json:"result_key,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Health tracks outstanding background tasks. It is safe for concurrent use.
type Health struct {
	mu        sync.RWMutex
	tasks     map[string]TaskInfo
	updatedAt time.Time
}

// NewHealth creates an idle health reporter.
func NewHealth() *Health {
	return &Health{
		tasks:     make(map[string]TaskInfo),
		updatedAt: time.Now().UTC(),
	}
}

// Begin registers an outstanding task.
func (h *Health) Begin(taskID, resultKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().UTC()
	if len(h.tasks) == 0 {
		h.updatedAt = now
	}
	h.tasks[taskID] = TaskInfo{TaskID: taskID, ResultKey: resultKey, StartedAt: now}
}

// End removes a finished task.
func (h *Health) End(taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.tasks[taskID]; !ok {
		return
	}
	delete(h.tasks, taskID)
	if len(h.tasks) == 0 {
		h.updatedAt = time.Now().UTC()
	}
}

// State returns the current health and the time it last changed.
func (h *Health) State() (HealthState, time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.tasks) > 0 {
		return HealthBusy, h.updatedAt
	}
	return HealthIdle, h.updatedAt
}

// Outstanding returns the number of outstanding tasks.
func (h *Health) Outstanding() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tasks)
}

// Tasks returns the outstanding tasks, oldest first.
func (h *Health) Tasks() []TaskInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]TaskInfo, 0, len(h.tasks))
	for _, t := range h.tasks {
		infos = append(infos, t)
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].TaskID < infos[j].TaskID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Running reports whether taskID is outstanding.
func (h *Health) Running(taskID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.tasks[taskID]
	return ok
}
