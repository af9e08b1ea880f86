package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"strings"

	"github.com/lehigh-university-libraries/retoucher/internal/models"
	"github.com/lehigh-university-libraries/retoucher/internal/session"
	"github.com/lehigh-university-libraries/retoucher/internal/tools"
	"github.com/lehigh-university-libraries/retoucher/internal/utils"
)

func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessionStore.List()
	sessionList := make([]models.SessionView, 0, len(sessions))
	for _, sess := range sessions {
		sessionList = append(sessionList, sess.Snapshot())
	}
	h.writeJSON(w, sessionList)
}

func (h *Handler) HandleSessionDetail(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, sess.Snapshot())
}

func (h *Handler) HandleSessionClose(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionStore.Delete(r.PathValue("id")); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleImage serves the current frame, including any previewed candidate.
func (h *Handler) HandleImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, sess.Frame()); err != nil {
		h.writeError(w, "Failed to encode image: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.writePNG(w, r, buf.Bytes())
}

// HandleMaskImage serves the tinted mask overlay at viewport resolution, or
// with ?export=1 the raw selection at the image's native resolution.
func (h *Handler) HandleMaskImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	var err error
	if r.URL.Query().Get("export") != "" {
		err = png.Encode(&buf, sess.ExportMask())
	} else {
		err = png.Encode(&buf, sess.MaskOverlay())
	}
	if err != nil {
		h.writeError(w, "Failed to encode mask: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.writePNG(w, r, buf.Bytes())
}

func (h *Handler) writePNG(w http.ResponseWriter, r *http.Request, data []byte) {
	etag := `"` + utils.CalculateDataMD5(data) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

func (h *Handler) HandleTool(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	var request struct {
		Tool string `json:"tool"`
	}
	if !h.decode(w, r, &request) {
		return
	}

	var kind tools.Kind
	if request.Tool != "" {
		k, err := tools.ParseKind(request.Tool)
		if err != nil {
			h.writeErr(w, err)
			return
		}
		kind = k
	}
	if err := sess.SetActiveTool(kind); err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, sess.Snapshot())
}

// HandleGenerate runs the active tool and waits for the result. The
// parameters are decoded against the active tool.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	var request struct {
		Params json.RawMessage `json:"params"`
	}
	if !h.decode(w, r, &request) {
		return
	}

	kind, active := sess.ActiveTool()
	if !active {
		h.writeError(w, "No tool selected", http.StatusBadRequest)
		return
	}
	params, err := tools.DecodeParams(kind, request.Params)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	params, err = h.resolveImages(r, params)
	if err != nil {
		h.writeError(w, "Failed to fetch source image: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := sess.Generate(r.Context(), params); err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, sess.Snapshot())
}

// resolveImages downloads secondary images given by URL.
func (h *Handler) resolveImages(r *http.Request, params tools.Params) (tools.Params, error) {
	fs, ok := params.(tools.FaceSwapParams)
	if !ok || len(fs.SourceImage) > 0 || strings.TrimSpace(fs.SourceImageURL) == "" {
		return params, nil
	}
	data, err := h.fetcher.Fetch(r.Context(), fs.SourceImageURL)
	if err != nil {
		return nil, err
	}
	fs.SourceImage = data
	return fs, nil
}

func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	request := struct {
		Opacity *int `json:"opacity"`
		Split   *int `json:"split"`
	}{}
	if !h.decode(w, r, &request) {
		return
	}

	current := sess.Snapshot().Candidate
	if current == nil {
		h.writeErr(w, session.ErrNoCandidate)
		return
	}
	opacity, split := current.Opacity, current.Split
	if request.Opacity != nil {
		opacity = *request.Opacity
	}
	if request.Split != nil {
		split = *request.Split
	}
	if err := sess.SetPreview(opacity, split); err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, sess.Snapshot())
}

func (h *Handler) HandleEnhance(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	var request struct {
		Prompt string `json:"prompt"`
	}
	if !h.decode(w, r, &request) {
		return
	}

	enhanced, err := sess.EnhancePrompt(r.Context(), request.Prompt)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, map[string]any{
		"prompt":   enhanced,
		"original": request.Prompt,
		"changed":  enhanced != request.Prompt,
	})
}

func (h *Handler) HandleTools(w http.ResponseWriter, r *http.Request) {
	type toolInfo struct {
		ID     string `json:"id"`
		Policy string `json:"policy"`
		tools.Capabilities
	}
	kinds := tools.Selectable()
	list := make([]toolInfo, 0, len(kinds))
	for _, k := range kinds {
		list = append(list, toolInfo{
			ID:           k.String(),
			Policy:       tools.PolicyOf(k).String(),
			Capabilities: tools.CapabilitiesOf(k),
		})
	}
	h.writeJSON(w, list)
}

func sessionURL(sess *session.Session) string {
	return fmt.Sprintf("/api/sessions/%s", sess.ID)
}
