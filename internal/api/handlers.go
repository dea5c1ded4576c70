package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/seoscope/geoaudit/internal/audit"
	"github.com/seoscope/geoaudit/internal/service"
)

type startAuditRequest struct {
	URL            string   `json:"url"`
	CompetitorURLs []string `json:"competitor_urls"`
}

func (s *Server) startAudit(w http.ResponseWriter, r *http.Request) {
	var req startAuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	auditID, err := s.service.StartAudit(r.Context(), req.URL, req.CompetitorURLs)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("start audit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start audit")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"audit_id": auditID})
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	auditID := chi.URLParam(r, "audit_id")
	a, err := s.service.GetAudit(r.Context(), auditID)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "audit not found")
			return
		}
		s.logger.Error("get audit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load audit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": a})
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	auditID := chi.URLParam(r, "audit_id")
	pages, err := s.service.ListPages(r.Context(), auditID)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "audit not found")
			return
		}
		s.logger.Error("list pages failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list pages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *Server) cancelAudit(w http.ResponseWriter, r *http.Request) {
	auditID := chi.URLParam(r, "audit_id")
	if err := s.service.CancelAudit(r.Context(), auditID); err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "audit not found")
			return
		}
		s.logger.Error("cancel audit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel audit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"audit_id": auditID})
}

func (s *Server) deleteAudit(w http.ResponseWriter, r *http.Request) {
	auditID := chi.URLParam(r, "audit_id")
	if err := s.service.DeleteAudit(r.Context(), auditID); err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "audit not found")
			return
		}
		s.logger.Error("delete audit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete audit")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// streamEvents serves GET /v1/audits/{audit_id}/events as a Server-Sent
// Events stream. The first event is always a snapshot of current state;
// the stream closes after the terminal event.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	auditID := chi.URLParam(r, "audit_id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe, err := s.broker.Subscribe(r.Context(), auditID)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "audit not found")
			return
		}
		s.logger.Error("subscribe failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			data, marshalErr := json.Marshal(ev)
			if marshalErr != nil {
				s.logger.Error("marshal event failed", zap.Error(marshalErr))
				continue
			}
			if _, writeErr := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data); writeErr != nil {
				return
			}
			flusher.Flush()
			if ev.Terminal {
				return
			}
		}
	}
}
