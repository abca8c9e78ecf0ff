package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wesm/argh/internal/db"
	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/recommend"
	"github.com/wesm/argh/internal/turn"
)

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// SnoozeDTO is a client-held snooze. Expired entries are ignored.
type SnoozeDTO struct {
	Type      models.ItemType `json:"type"`
	ID        int64           `json:"id"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// NextRequest asks for the next item. Stored preferences are used when
// Preferences is omitted.
type NextRequest struct {
	Preferences    *models.Preferences `json:"preferences,omitempty"`
	Snoozed        []SnoozeDTO         `json:"snoozed"`
	IncludeScoring bool                `json:"include_scoring"`
}

// NextResponse carries the recommendation, null when nothing is eligible
type NextResponse struct {
	Recommendation *recommend.Recommendation `json:"recommendation"`
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var req NextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}

	var prefs models.Preferences
	if req.Preferences != nil {
		prefs = *req.Preferences
	} else {
		stored, err := s.prefs.GetPreferences(r.Context(), id.UserID)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		prefs = stored
	}

	now := s.now()
	snoozed := make([]models.ItemRef, 0, len(req.Snoozed))
	for _, sn := range req.Snoozed {
		if sn.ExpiresAt != nil && !sn.ExpiresAt.After(now) {
			continue
		}
		snoozed = append(snoozed, models.ItemRef{Type: sn.Type, ID: sn.ID})
	}

	rec, err := s.recommender.Next(r.Context(), recommend.Request{
		UserID:         id.UserID,
		Preferences:    prefs,
		Snoozed:        snoozed,
		IncludeScoring: req.IncludeScoring,
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NextResponse{Recommendation: rec})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	itemType := models.ItemType(chi.URLParam(r, "type"))
	if !itemType.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_type", "type must be issue or pull_request")
		return
	}
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || itemID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a positive integer")
		return
	}

	state, err := s.turns.State(r.Context(), models.ItemRef{Type: itemType, ID: itemID})
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "work item not found")
	case errors.Is(err, turn.ErrNotOpen):
		writeError(w, http.StatusConflict, "not_open", err.Error())
	case err != nil:
		s.internalError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, state)
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	org := chi.URLParam(r, "org")
	if org == "" {
		writeError(w, http.StatusBadRequest, "invalid_org", "organization is required")
		return
	}
	if !s.claimSync(org) {
		writeError(w, http.StatusConflict, "sync_running", "a sync for "+org+" is already running")
		return
	}
	defer s.releaseSync(org)

	// A client hanging up does not stop the pass; restarts resume from the
	// last watermark instead.
	summary, err := s.syncer.Sync(context.WithoutCancel(r.Context()), org)
	if err != nil && summary == nil {
		s.internalError(w, r, err)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, summary)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	prefs, err := s.prefs.GetPreferences(r.Context(), id.UserID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handlePatchPreferences(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var patch models.PreferencesPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}
	if patch.Empty() {
		writeError(w, http.StatusBadRequest, "empty_patch", "no preference fields to update")
		return
	}

	prefs, err := s.prefs.PatchPreferences(r.Context(), id.UserID, patch)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}
