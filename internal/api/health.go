package api

import (
	"net/http"
	"time"

	"github.com/seantiz/rollout/internal/engine"
)

type healthResponse struct {
	Status string `json:"status"`
}

// pingResponse is the session health document polled by the hosting platform.
type pingResponse struct {
	Status           engine.HealthState `json:"status"`
	TimeOfLastUpdate int64              `json:"time_of_last_update"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	state, updated := s.engine.Health().State()
	s.writeJSON(w, http.StatusOK, pingResponse{
		Status:           state,
		TimeOfLastUpdate: updated.Unix(),
	})
}

// tasksResponse is the JSON response for GET /v1/tasks.
type tasksResponse struct {
	Status      engine.HealthState `json:"status"`
	Outstanding int                `json:"outstanding"`
	Tasks       []engine.TaskInfo  `json:"tasks"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	h := s.engine.Health()
	state, updated := h.State()
	tasks := h.Tasks()
	s.writeJSON(w, http.StatusOK, tasksResponse{
		Status:      state,
		Outstanding: len(tasks),
		Tasks:       tasks,
		UpdatedAt:   updated,
	})
}
