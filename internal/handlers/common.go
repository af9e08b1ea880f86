package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/lehigh-university-libraries/retoucher/internal/images"
	"github.com/lehigh-university-libraries/retoucher/internal/layers"
	"github.com/lehigh-university-libraries/retoucher/internal/mask"
	"github.com/lehigh-university-libraries/retoucher/internal/session"
	"github.com/lehigh-university-libraries/retoucher/internal/storage"
	"github.com/lehigh-university-libraries/retoucher/internal/tools"
	"github.com/lehigh-university-libraries/retoucher/internal/workflow"
)

type Handler struct {
	sessionStore *storage.SessionStore
	workflows    *storage.WorkflowStore
	backend      session.Backend
	fetcher      *images.Fetcher
	opts         session.Options
	maxUpload    int64
}

// Config carries the collaborators of a Handler. Workflows may be nil, in
// which case the library routes answer 404.
type Config struct {
	Sessions  *storage.SessionStore
	Workflows *storage.WorkflowStore
	Backend   session.Backend
	Fetcher   *images.Fetcher
	Options   session.Options
	// MaxUploadBytes caps multipart uploads. Zero means 32 MiB.
	MaxUploadBytes int64
}

func New(cfg Config) *Handler {
	h := &Handler{
		sessionStore: cfg.Sessions,
		workflows:    cfg.Workflows,
		backend:      cfg.Backend,
		fetcher:      cfg.Fetcher,
		opts:         cfg.Options,
		maxUpload:    cfg.MaxUploadBytes,
	}
	if h.sessionStore == nil {
		h.sessionStore = storage.New()
	}
	if h.fetcher == nil {
		h.fetcher = images.NewFetcher(cfg.MaxUploadBytes)
	}
	if h.maxUpload <= 0 {
		h.maxUpload = 32 << 20
	}
	return h
}

// Routes registers every endpoint on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/sessions", h.HandleSessions)
	mux.HandleFunc("POST /api/upload", h.HandleUpload)
	mux.HandleFunc("GET /api/sessions/{id}", h.HandleSessionDetail)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.HandleSessionClose)
	mux.HandleFunc("GET /api/sessions/{id}/image", h.HandleImage)
	mux.HandleFunc("GET /api/sessions/{id}/mask", h.HandleMaskImage)

	mux.HandleFunc("POST /api/sessions/{id}/tool", h.HandleTool)
	mux.HandleFunc("POST /api/sessions/{id}/generate", h.HandleGenerate)
	mux.HandleFunc("POST /api/sessions/{id}/preview", h.HandlePreview)
	mux.HandleFunc("POST /api/sessions/{id}/commit", h.command(func(s *session.Session) error { return s.Commit() }))
	mux.HandleFunc("POST /api/sessions/{id}/discard", h.command(func(s *session.Session) error { return s.Discard() }))
	mux.HandleFunc("POST /api/sessions/{id}/dismiss", h.command(func(s *session.Session) error { return s.AcknowledgeError() }))
	mux.HandleFunc("POST /api/sessions/{id}/undo", h.command(navigate((*session.Session).Undo)))
	mux.HandleFunc("POST /api/sessions/{id}/redo", h.command(navigate((*session.Session).Redo)))

	mux.HandleFunc("POST /api/sessions/{id}/mask/stroke", h.HandleStroke)
	mux.HandleFunc("POST /api/sessions/{id}/mask/clear", h.command(func(s *session.Session) error { return s.ClearMask() }))
	mux.HandleFunc("POST /api/sessions/{id}/mask/brush", h.HandleBrush)
	mux.HandleFunc("POST /api/sessions/{id}/mask/viewport", h.HandleViewport)
	mux.HandleFunc("POST /api/sessions/{id}/mask/mode", h.HandleSelectionMode)
	mux.HandleFunc("POST /api/sessions/{id}/mask/detection", h.HandleSelectDetection)
	mux.HandleFunc("POST /api/sessions/{id}/detect", h.HandleDetect)
	mux.HandleFunc("POST /api/sessions/{id}/enhance", h.HandleEnhance)

	mux.HandleFunc("POST /api/sessions/{id}/layers", h.HandleLayers)
	mux.HandleFunc("GET /api/sessions/{id}/workflow", h.HandleSessionWorkflow)
	mux.HandleFunc("POST /api/sessions/{id}/workflow", h.HandleLoadWorkflow)

	mux.HandleFunc("GET /api/workflows", h.HandleWorkflows)
	mux.HandleFunc("POST /api/workflows", h.HandleSaveWorkflow)
	mux.HandleFunc("GET /api/workflows/{name}", h.HandleWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{name}", h.HandleDeleteWorkflow)

	mux.HandleFunc("GET /api/tools", h.HandleTools)
	mux.HandleFunc("GET /healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})

	return mux
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	h.writeJSONStatus(w, http.StatusOK, data)
}

func (h *Handler) writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	if code >= http.StatusInternalServerError {
		slog.Error(message)
	} else {
		slog.Debug(message, "status", code)
	}
	http.Error(w, message, code)
}

// writeErr maps domain errors onto status codes.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	var vague *session.SpecificityError
	if errors.As(err, &vague) {
		h.writeJSONStatus(w, http.StatusUnprocessableEntity, map[string]string{
			"error":      vague.Error(),
			"suggestion": vague.Suggestion,
		})
		return
	}
	h.writeError(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tools.ErrValidation),
		errors.Is(err, tools.ErrUnknownTool),
		errors.Is(err, mask.ErrInvalidBox),
		errors.Is(err, images.ErrNotImage),
		errors.Is(err, layers.ErrTooLarge),
		errors.Is(err, workflow.ErrEmpty):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, layers.ErrUnknownLayer):
		return http.StatusNotFound
	case errors.Is(err, session.ErrStaleResult),
		errors.Is(err, session.ErrNoCandidate),
		errors.Is(err, session.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, session.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON request body. An empty body leaves v untouched.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// Session helpers
func (h *Handler) getSessionOrError(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, exists := h.sessionStore.Get(r.PathValue("id"))
	if !exists {
		h.writeError(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

// command wraps a session command that answers with the new snapshot.
func (h *Handler) command(fn func(*session.Session) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := h.getSessionOrError(w, r)
		if !ok {
			return
		}
		if err := fn(sess); err != nil {
			h.writeErr(w, err)
			return
		}
		h.writeJSON(w, sess.Snapshot())
	}
}

// navigate adapts undo or redo to a command. A move past either end of the
// history changes nothing and still answers with the snapshot.
func navigate(move func(*session.Session) bool) func(*session.Session) error {
	return func(s *session.Session) error {
		if !move(s) {
			slog.Debug("History already at the end", "session_id", s.ID)
		}
		return nil
	}
}
