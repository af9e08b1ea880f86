package handlers

import (
	"net/http"

	"github.com/lehigh-university-libraries/retoucher/internal/tools"
)

// HandleLayers applies one layer command: "text" adds a text layer,
// "select" makes a layer active and "remove" deletes one.
func (h *Handler) HandleLayers(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	var request struct {
		Action  string           `json:"action"`
		LayerID string           `json:"layer_id"`
		Text    tools.TextParams `json:"text"`
	}
	if !h.decode(w, r, &request) {
		return
	}

	var err error
	switch request.Action {
	case "text":
		err = sess.AddText(request.Text)
	case "select":
		err = sess.SelectLayer(request.LayerID)
	case "remove":
		err = sess.RemoveLayer(request.LayerID)
	default:
		h.writeError(w, "Invalid action. Must be 'text', 'select', or 'remove'", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, sess.Snapshot())
}
