package handlers

import (
	"net/http"

	"github.com/lehigh-university-libraries/retoucher/internal/storage"
	"github.com/lehigh-university-libraries/retoucher/internal/workflow"
)

// HandleSessionWorkflow exports the tools applied so far as a workflow.
func (h *Handler) HandleSessionWorkflow(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = sess.Filename
	}
	h.writeJSON(w, sess.Workflow(name))
}

// HandleLoadWorkflow starts a guided workflow. The body is either a full
// workflow or {"name": "..."} naming one from the library.
func (h *Handler) HandleLoadWorkflow(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	var wf workflow.Workflow
	if !h.decode(w, r, &wf) {
		return
	}
	if len(wf.Tools) == 0 && wf.Name != "" {
		if h.workflows == nil {
			h.writeError(w, "Workflow library not configured", http.StatusNotFound)
			return
		}
		saved, err := h.workflows.Get(r.Context(), wf.Name)
		if err != nil {
			h.writeErr(w, err)
			return
		}
		wf = saved.Workflow
	}

	if err := sess.LoadWorkflow(wf); err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, sess.Snapshot())
}

func (h *Handler) library(w http.ResponseWriter) (*storage.WorkflowStore, bool) {
	if h.workflows == nil {
		h.writeError(w, "Workflow library not configured", http.StatusNotFound)
		return nil, false
	}
	return h.workflows, true
}

func (h *Handler) HandleWorkflows(w http.ResponseWriter, r *http.Request) {
	lib, ok := h.library(w)
	if !ok {
		return
	}
	list, err := lib.List(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if list == nil {
		list = []storage.SavedWorkflow{}
	}
	h.writeJSON(w, list)
}

// HandleSaveWorkflow stores a workflow. With a session_id and no tools the
// session's applied tools are saved under the given name.
func (h *Handler) HandleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	lib, ok := h.library(w)
	if !ok {
		return
	}

	var request struct {
		workflow.Workflow
		SessionID string `json:"session_id"`
	}
	if !h.decode(w, r, &request) {
		return
	}

	wf := request.Workflow
	if request.SessionID != "" && len(wf.Tools) == 0 {
		sess, exists := h.sessionStore.Get(request.SessionID)
		if !exists {
			h.writeError(w, "Session not found", http.StatusNotFound)
			return
		}
		wf = sess.Workflow(wf.Name)
	}

	if err := lib.Save(r.Context(), wf); err != nil {
		h.writeErr(w, err)
		return
	}
	saved, err := lib.Get(r.Context(), wf.Name)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSONStatus(w, http.StatusCreated, saved)
}

func (h *Handler) HandleWorkflow(w http.ResponseWriter, r *http.Request) {
	lib, ok := h.library(w)
	if !ok {
		return
	}
	saved, err := lib.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, saved)
}

func (h *Handler) HandleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	lib, ok := h.library(w)
	if !ok {
		return
	}
	if err := lib.Delete(r.Context(), r.PathValue("name")); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
