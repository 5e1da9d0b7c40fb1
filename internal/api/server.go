// Package api exposes the approval pipeline and edit history over HTTP for
// the element-inspector and chat UIs.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"livepatch/internal/approval"
	"livepatch/internal/browser"
	"livepatch/internal/history"
	"livepatch/internal/logging"
	"livepatch/internal/types"
)

// AutoApplySetting is the toggle behind PUT /settings/fast-path-auto-apply.
type AutoApplySetting interface {
	FastPathAutoApply() bool
	SetFastPathAutoApply(bool)
}

// Server holds the HTTP handlers.
type Server struct {
	approvals   *approval.Manager
	applicator  *history.Applicator
	settings    AutoApplySetting
	messages    *MessageLog
	projectPath string
}

// NewServer wires handlers to the pipeline. settings may be nil.
func NewServer(approvals *approval.Manager, applicator *history.Applicator, settings AutoApplySetting, messages *MessageLog, projectPath string) *Server {
	if messages == nil {
		messages = NewMessageLog()
	}
	return &Server{
		approvals:   approvals,
		applicator:  applicator,
		settings:    settings,
		messages:    messages,
		projectPath: projectPath,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/approvals", func(r chi.Router) {
		r.Post("/", s.handlePrepare)
		r.Get("/active", s.handleActive)
		r.Get("/events", s.handleEvents)
		r.Post("/{id}/accept", s.handleAccept)
		r.Post("/{id}/reject", s.handleReject)
		r.Post("/{id}/cancel", s.handleCancel)
	})

	r.Put("/tabs/active", s.handleActiveTab)
	r.Put("/selection", s.handleSelection)

	r.Get("/edited-files", s.handleEditedFiles)
	r.Delete("/edited-files", s.handleDismissEdited)

	r.Post("/undo", s.handleUndo)
	r.Post("/redo", s.handleRedo)
	r.Post("/checkpoints", s.handleCheckpoint)
	r.Post("/checkpoints/{name}/restore", s.handleRestore)

	r.Get("/messages", s.handleMessages)
	r.Put("/settings/fast-path-auto-apply", s.handleAutoApply)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Get(logging.CategoryAPI).Debug("%s %s -> %d (%v)", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps pipeline errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, approval.ErrNotFound),
		errors.Is(err, history.ErrNoCheckpoint):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrUnknownTab):
		return http.StatusUnprocessableEntity
	case errors.Is(err, approval.ErrDuplicateID),
		errors.Is(err, approval.ErrNotCancellable),
		errors.Is(err, approval.ErrNoPatch),
		errors.Is(err, history.ErrSourceChanged),
		errors.Is(err, history.ErrNothingToUndo),
		errors.Is(err, history.ErrNothingToRedo):
		return http.StatusConflict
	case errors.Is(err, approval.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

// handlePrepare opens an approval. When the caller sends no preview
// scripts they are built from the delta and the element's selector.
// POST /approvals
func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req approval.PrepareRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Element == nil {
		writeError(w, http.StatusBadRequest, errors.New("element required"))
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.ProjectPath == "" {
		req.ProjectPath = s.projectPath
	}
	if req.ApplyCode == "" && req.UndoCode == "" && req.Element.Selector != "" {
		delta := types.Delta{CSS: req.CSS, Text: req.Text, Src: req.Src}
		scripts := browser.DeltaScripts(req.Element.Selector, req.ID, delta)
		req.ApplyCode, req.UndoCode = scripts.Apply, scripts.Undo
	}

	if err := s.approvals.Prepare(r.Context(), req); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": req.ID})
}

// GET /approvals/active
func (s *Server) handleActive(w http.ResponseWriter, _ *http.Request) {
	p, ok := s.approvals.Active()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleEvents streams approval events as server-sent events.
// GET /approvals/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	events, unsubscribe := s.approvals.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// POST /approvals/{id}/accept
func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.approvals.Accept(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// POST /approvals/{id}/reject
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.approvals.Reject(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// POST /approvals/{id}/cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.approvals.Cancel(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// PUT /tabs/active
func (s *Server) handleActiveTab(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TabID string `json:"tabId"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.approvals.SetActiveTab(r.Context(), body.TabID)
	w.WriteHeader(http.StatusNoContent)
}

// PUT /selection
func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Element *types.SelectedElement `json:"element"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.approvals.SetSelection(r.Context(), body.Element)
	w.WriteHeader(http.StatusNoContent)
}

// GET /edited-files
func (s *Server) handleEditedFiles(w http.ResponseWriter, _ *http.Request) {
	edited := s.applicator.Edited()
	if edited == nil {
		writeJSON(w, http.StatusOK, []history.EditedFile{})
		return
	}
	writeJSON(w, http.StatusOK, edited.List())
}

// DELETE /edited-files[?path=...]
func (s *Server) handleDismissEdited(w http.ResponseWriter, r *http.Request) {
	edited := s.applicator.Edited()
	if edited != nil {
		if path := r.URL.Query().Get("path"); path != "" {
			edited.Dismiss(path)
		} else {
			edited.Clear()
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type pathBody struct {
	Path string `json:"path"`
}

// POST /undo
func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	var body pathBody
	if !decode(w, r, &body) {
		return
	}
	e, err := s.applicator.Undo(r.Context(), body.Path)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": e.Path, "description": e.Description})
}

// POST /redo
func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	var body pathBody
	if !decode(w, r, &body) {
		return
	}
	e, err := s.applicator.Redo(r.Context(), body.Path)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": e.Path, "description": e.Description})
}

// POST /checkpoints
func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name required"))
		return
	}
	cp, err := s.applicator.CreateCheckpoint(r.Context(), body.Name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	paths := make([]string, 0, len(cp.Files))
	for p := range cp.Files {
		paths = append(paths, p)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": cp.ID, "name": cp.Name, "files": paths})
}

// POST /checkpoints/{name}/restore
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	restored, err := s.applicator.RestoreCheckpoint(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if restored == nil {
		restored = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"restored": restored})
}

// GET /messages
func (s *Server) handleMessages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.messages.List())
}

// PUT /settings/fast-path-auto-apply
func (s *Server) handleAutoApply(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, errors.New("settings unavailable"))
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.settings.SetFastPathAutoApply(body.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.settings.FastPathAutoApply()})
}
