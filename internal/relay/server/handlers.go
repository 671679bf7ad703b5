package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"wall/internal/relay"
	"wall/internal/relay/agent"
)

const defaultThread = "general"

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Stage string `json:"stage,omitempty"`
}

type publishResponse struct {
	Status string `json:"status"`
	NoteID string `json:"note_id"`
}

type statusResponse struct {
	Enabled         bool    `json:"enabled"`
	Status          string  `json:"status"`
	Error           *string `json:"error"`
	AgentPublicKey  *string `json:"agentPublicKey"`
	KnownPeersCount int     `json:"knownPeersCount"`
}

// handlePublish accepts a fully-signed event, persists it to the wall thread
// named by its `t` tag, and forwards it upstream when the connection is
// enabled. A note is durable only when both the local write and the sink
// commit succeed; the failing stage is reported otherwise.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var event relay.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.writeError(w, http.StatusBadRequest, &relay.ValidationError{
			Field:  "body",
			Reason: "must be a signed event object",
		})
		return
	}

	if err := s.verifier.Verify(event); err != nil {
		s.writeError(w, http.StatusBadRequest, &relay.ValidationError{
			Field:  "sig",
			Reason: "signature verification failed",
		})
		return
	}

	thread := event.Tag("t")
	if thread == "" {
		thread = defaultThread
	}

	id, err := s.store.Publish(r.Context(), thread, relay.NoteFromEvent(event))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	if s.p2p != nil {
		if err := s.p2p.PublishEvent(r.Context(), event); err != nil {
			// the note is already durable locally; upstream delivery rides the
			// reconnect loop
			s.logger.Warn("failed to forward published event upstream",
				zap.String("note", id),
				zap.Error(err),
			)
		}
	}

	s.writeJSON(w, http.StatusOK, publishResponse{
		Status: "note_published",
		NoteID: id,
	})
}

// handleListThread returns up to limit notes from a thread, in insertion
// order, optionally restricted to notes created at or after since (unix
// seconds or RFC 3339).
func (s *Server) handleListThread(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("thread_id")

	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	limit := s.cfg.ListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			s.writeError(w, http.StatusBadRequest, &relay.ValidationError{
				Field:  "limit",
				Reason: "must be a positive integer",
			})
			return
		}
	}

	notes, err := s.store.List(r.Context(), threadID, since, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, notes)
}

// handlePeers returns the sorted set of observed author identities, or 503
// when the upstream connection is disabled.
func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if s.p2p == nil {
		s.writeError(w, http.StatusServiceUnavailable,
			errors.New("upstream connection is disabled"))
		return
	}

	s.writeJSON(w, http.StatusOK, s.peers.Known())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status: string(agent.StatusDisconnected),
	}

	if s.p2p != nil {
		status, lastErr := s.p2p.Status()
		resp.Enabled = true
		resp.Status = string(status)
		if lastErr != nil {
			msg := lastErr.Error()
			resp.Error = &msg
		}
		key := s.p2p.PublicKey()
		resp.AgentPublicKey = &key
		resp.KnownPeersCount = s.peers.Count()
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// writeStoreError maps store failures onto the API contract: malformed input
// is 400, an open breaker is 503, and a persistence failure is 500 tagged
// with the stage that failed.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	var (
		validationErr  *relay.ValidationError
		persistenceErr *relay.PersistenceError
	)

	switch {
	case errors.As(err, &validationErr):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, relay.ErrCircuitOpen):
		s.writeError(w, http.StatusServiceUnavailable, err)
	case errors.As(err, &persistenceErr):
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	resp := errorResponse{Error: err.Error()}

	var (
		validationErr  *relay.ValidationError
		persistenceErr *relay.PersistenceError
	)
	if errors.As(err, &validationErr) {
		resp.Field = validationErr.Field
	}
	if errors.As(err, &persistenceErr) {
		resp.Stage = persistenceErr.Stage
	}

	s.writeJSON(w, code, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}

	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}

	return time.Time{}, &relay.ValidationError{
		Field:  "since",
		Reason: "must be unix seconds or RFC 3339",
	}
}
