package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/voyagen/crowdqueue/internal/models"
	"github.com/voyagen/crowdqueue/internal/service"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Ping(r.Context()); err != nil {
		s.log.Warn("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- reads ---

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.queue.Snapshot(r.Context(), participant(r))
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	tag := snapshotETag(snap)
	w.Header().Set("ETag", tag)
	w.Header().Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, tag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	np, err := s.queue.NowPlaying(r.Context())
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, np)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	submitter := r.URL.Query().Get("submitter")
	if submitter == "" {
		submitter = participant(r)
	}
	entries, err := s.queue.ListBySubmitter(r.Context(), submitter)
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- mutations ---

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON", "validation")
		return
	}
	entry, err := s.queue.Submit(r.Context(), req.URL, participant(r))
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleUpvote(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queue.Upvote(r.Context(), r.PathValue("id"), participant(r))
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownvote(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queue.Downvote(r.Context(), r.PathValue("id"), participant(r))
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFinished(w http.ResponseWriter, r *http.Request) {
	t, err := s.queue.Finished(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.transitionResponse(r.Context(), t))
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	t, err := s.queue.Remove(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.transitionResponse(r.Context(), t))
}

// transitionResponse fills now_playing: the successor when the call
// advanced, otherwise a fresh read.
func (s *Server) transitionResponse(ctx context.Context, t service.Transition) models.TransitionResponse {
	if t.From != "" {
		return t.Response(t.To)
	}
	resp := t.Response("")
	if np, err := s.queue.NowPlaying(ctx); err == nil {
		resp.NowPlaying = np.EntryID
	}
	return resp
}

func participant(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(models.ParticipantHeader))
}

// --- errors ---

// APIError is the error envelope for all error responses.
type APIError struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Code   string `json:"code"`
}

func (s *Server) writeServiceErr(w http.ResponseWriter, r *http.Request, err error) {
	kind := service.KindOf(err)
	status, msg := http.StatusInternalServerError, "storage unavailable, retry"

	var (
		ve *service.ValidationError
		ce *service.ConflictError
	)
	switch {
	case errors.As(err, &ve) && ve.Reason == service.ReasonMissingParticipant:
		status, msg = http.StatusUnauthorized, "participant id required"
	case errors.As(err, &ve):
		status, msg = http.StatusBadRequest, ve.Reason
	case errors.As(err, &ce):
		status, msg = http.StatusConflict, ce.Reason
	case kind == service.KindConflict:
		status, msg = http.StatusConflict, "conflict"
	case kind == service.KindNotFound:
		status, msg = http.StatusNotFound, "entry not found"
	default:
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeErr(w, status, msg, string(kind))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, APIError{Status: status, Error: msg, Code: code})
}
