package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/seantiz/rollout/internal/engine"
	"github.com/seantiz/rollout/internal/workunit"
	"github.com/seantiz/rollout/pkg/objstore"
	"github.com/seantiz/rollout/pkg/rollout"
)

const (
	maxBodySize = 16 << 20 // 16 MB

	// sessionHeader carries the runtime session id assigned by the consumer.
	sessionHeader = "X-Amzn-Bedrock-AgentCore-Runtime-Session-Id"
)

// configEnvelope pulls the rollout config out of an invocation body.
type configEnvelope struct {
	Rollout *rollout.Config `json:"_rollout"`
}

func (s *Server) handleInvocation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		invocations.WithLabelValues(outcomeBadRequest).Inc()
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	inv, err := decodeInvocation(raw)
	if err != nil {
		invocations.WithLabelValues(outcomeBadRequest).Inc()
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ack, err := s.engine.Submit(r.Context(), inv)
	if err != nil {
		s.writeSubmitError(w, r, err)
		return
	}

	invocations.WithLabelValues(outcomeAccepted).Inc()
	s.writeJSON(w, http.StatusAccepted, ack)
}

// decodeInvocation parses the body into the payload map and, when present, the
// rollout config carried under rollout.PayloadConfigKey.
func decodeInvocation(raw []byte) (*workunit.Invocation, error) {
	var payload workunit.Payload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil || payload == nil {
		return nil, errors.New("invalid JSON body: expected an object")
	}

	inv := &workunit.Invocation{
		Payload: payload,
		Raw:     json.RawMessage(raw),
	}

	if _, ok := payload[rollout.PayloadConfigKey]; !ok {
		return inv, nil
	}

	var env configEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Rollout == nil {
		return nil, errors.New("invalid " + rollout.PayloadConfigKey + ": expected an object")
	}
	inv.Config = env.Rollout
	return inv, nil
}

// writeSubmitError maps Submit failures onto HTTP status codes.
func (s *Server) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	var cfgErr *rollout.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		invocations.WithLabelValues(outcomeBadRequest).Inc()
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrDuplicateRollout):
		invocations.WithLabelValues(outcomeDuplicate).Inc()
		s.writeError(w, http.StatusConflict, err.Error())
	case objstore.IsTransient(err):
		invocations.WithLabelValues(outcomeUnavailable).Inc()
		s.logger.Warn("result store unavailable", "error", err, "session_id", r.Header.Get(sessionHeader))
		s.writeError(w, http.StatusServiceUnavailable, "result store unavailable")
	default:
		invocations.WithLabelValues(outcomeError).Inc()
		s.logger.Error("submit invocation", "error", err, "session_id", r.Header.Get(sessionHeader))
		s.writeError(w, http.StatusInternalServerError, "failed to submit invocation")
	}
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
