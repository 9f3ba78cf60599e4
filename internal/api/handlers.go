package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meterpoll/internal/command"
	"github.com/nerrad567/meterpoll/internal/poller"
	"github.com/nerrad567/meterpoll/internal/source"
	"github.com/nerrad567/meterpoll/internal/utility"
)

// handleGetState returns the full scheduler snapshot.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.poller.Snapshot())
}

// handleTogglePause flips the pause flag.
func (s *Server) handleTogglePause(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, command.PauseReply{Paused: s.poller.TogglePause()})
}

func (s *Server) handleGetFilters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.poller.Snapshot().Filter)
}

// handleReplaceFilters replaces the whole filter.
func (s *Server) handleReplaceFilters(w http.ResponseWriter, r *http.Request) {
	var f utility.Filter
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	updated, err := s.poller.SetFilter(f)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handlePatchFilters updates only the fields present in the body.
func (s *Server) handlePatchFilters(w http.ResponseWriter, r *http.Request) {
	var p utility.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	updated, err := s.poller.PatchFilter(p)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleGetHistory returns the buffered readings of one utility.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	points, ok := s.poller.History(id)
	if !ok {
		writeNotFound(w, "no history for "+id)
		return
	}
	writeJSON(w, http.StatusOK, command.HistoryReply{UtilityID: id, Points: points})
}

func (s *Server) handleListSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, command.SourcesReply{Sources: s.poller.ListSources()})
}

// handleSelectSource switches the active configuration source.
func (s *Server) handleSelectSource(w http.ResponseWriter, r *http.Request) {
	var req command.SelectSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "id is required")
		return
	}
	if err := s.poller.SelectSource(req.ID); err != nil {
		writeCommandError(w, err)
		return
	}
	s.logger.Info("configuration source selected", "source", req.ID)
	writeJSON(w, http.StatusOK, command.SourcesReply{Sources: s.poller.ListSources()})
}

// handleRefreshUtility polls one utility out of turn and returns its result.
// The request waits for the polling loop to reach its next checkpoint.
func (s *Server) handleRefreshUtility(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), command.DefaultWait)
	defer cancel()

	res, err := s.poller.RefreshUtility(ctx, id)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, command.RefreshReply{UtilityID: id, Result: res})
}

// handleReload re-reads the configuration tables and reports what changed.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), command.DefaultWait)
	defer cancel()

	changes, err := s.poller.Reload(ctx)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	s.logger.Info("configuration reloaded", "changes", changes.Summary())
	writeJSON(w, http.StatusOK, command.NewReloadReply(changes))
}

// writeCommandError maps domain errors to HTTP statuses.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, utility.ErrInvalidThreshold), errors.Is(err, command.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, source.ErrUnknownSource), errors.Is(err, command.ErrNotFound),
		errors.Is(err, poller.ErrUnknownUtility):
		writeNotFound(w, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "polling loop did not answer in time")
	case errors.Is(err, command.ErrUnknownAction):
		writeBadRequest(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
