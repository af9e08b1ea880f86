package handlers

import (
	"net/http"

	"github.com/lehigh-university-libraries/retoucher/internal/mask"
)

// HandleStroke paints one stroke. Points are in screen coordinates of the
// given viewport transform.
func (h *Handler) HandleStroke(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	request := struct {
		Points   []mask.Point  `json:"points"`
		Viewport mask.Viewport `json:"viewport"`
	}{Viewport: mask.Viewport{Zoom: 1}}
	if !h.decode(w, r, &request) {
		return
	}

	if err := sess.Stroke(request.Viewport, request.Points); err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, sess.Snapshot())
}

func (h *Handler) HandleBrush(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	var request struct {
		Radius float64 `json:"radius"`
	}
	if !h.decode(w, r, &request) {
		return
	}

	if err := sess.SetBrushRadius(request.Radius); err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, sess.Snapshot())
}

func (h *Handler) HandleViewport(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	var request struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if !h.decode(w, r, &request) {
		return
	}

	if err := sess.SetViewport(request.Width, request.Height); err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, sess.Snapshot())
}

func (h *Handler) HandleSelectionMode(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	var request struct {
		Mode string `json:"mode"`
	}
	if !h.decode(w, r, &request) {
		return
	}

	mode, err := mask.ParseMode(request.Mode)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := sess.SetSelectionMode(mode); err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, sess.Snapshot())
}

func (h *Handler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	var request struct {
		Query string `json:"query"`
	}
	if !h.decode(w, r, &request) {
		return
	}

	detections, err := sess.Detect(r.Context(), request.Query)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, map[string]any{
		"detections": detections,
		"count":      len(detections),
	})
}

func (h *Handler) HandleSelectDetection(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	var request struct {
		Index int `json:"index"`
	}
	if !h.decode(w, r, &request) {
		return
	}

	if err := sess.SelectDetection(request.Index); err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, sess.Snapshot())
}
