package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/lehigh-university-libraries/retoucher/internal/layers"
	"github.com/lehigh-university-libraries/retoucher/internal/session"
)

func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	// Check if this is a JSON request with image URL
	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		h.handleURLUpload(w, r)
		return
	}

	// Handle file upload
	h.handleFileUpload(w, r)
}

func (h *Handler) handleURLUpload(w http.ResponseWriter, r *http.Request) {
	var request struct {
		ImageURL string `json:"image_url"`
		Filename string `json:"filename"`
	}
	if !h.decode(w, r, &request) {
		return
	}

	if request.ImageURL == "" {
		h.writeError(w, "image_url is required", http.StatusBadRequest)
		return
	}

	imageData, err := h.fetcher.Fetch(r.Context(), request.ImageURL)
	if err != nil {
		h.writeError(w, "Failed to process image URL: "+err.Error(), http.StatusBadRequest)
		return
	}

	filename := request.Filename
	if filename == "" {
		filename = filenameFromURL(request.ImageURL)
	}

	sess, err := h.createSession(imageData, filename)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Info("Session created from URL", "session_id", sess.ID, "url", request.ImageURL)

	h.writeCreated(w, sess, "url")
}

func (h *Handler) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("files")
		if err != nil {
			h.writeError(w, "Failed to read file: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	defer file.Close()

	fileData, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		h.writeError(w, "Failed to read file contents: "+err.Error(), http.StatusInternalServerError)
		return
	}

	// Validate file size
	if int64(len(fileData)) > h.maxUpload {
		h.writeError(w, fmt.Sprintf("File too large (max %dMB)", h.maxUpload>>20), http.StatusBadRequest)
		return
	}

	sess, err := h.createSession(fileData, header.Filename)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Info("Session created from upload", "session_id", sess.ID, "filename", header.Filename, "bytes", len(fileData))

	h.writeCreated(w, sess, "file")
}

func (h *Handler) createSession(data []byte, filename string) (*session.Session, error) {
	asset, err := layers.DecodeAsset(data, h.opts.MaxPixels)
	if err != nil {
		return nil, fmt.Errorf("unsupported image: %w", err)
	}
	if h.backend == nil {
		return nil, errors.New("no generation backend configured")
	}
	sess, err := session.New(asset, filename, h.backend, h.opts)
	if err != nil {
		return nil, err
	}
	h.sessionStore.Set(sess)
	return sess, nil
}

func (h *Handler) writeCreated(w http.ResponseWriter, sess *session.Session, source string) {
	w.Header().Set("Location", sessionURL(sess))
	h.writeJSONStatus(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID,
		"message":    "Successfully created session",
		"source":     source,
		"session":    sess.Snapshot(),
	})
}

func filenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "image"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "image"
	}
	return name
}
