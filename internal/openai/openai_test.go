package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/retoucher/internal/providers"
)

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestExtractText(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Expected chat completions path, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"hello"}}]}`)
	}))
	defer server.Close()

	o := New("test-key", server.URL)
	text, err := o.ExtractText(context.Background(), providers.Config{
		Model:  "gpt-test",
		Prompt: "describe",
		Images: []providers.Image{{Data: []byte("abc"), MIMEType: "image/png"}},
		JSON:   true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello" {
		t.Errorf("Expected hello, got %q", text)
	}

	if _, ok := got["response_format"]; !ok {
		t.Error("Expected response_format to be set for JSON requests")
	}
	messages := got["messages"].([]interface{})
	content := messages[0].(map[string]interface{})["content"].([]interface{})
	if len(content) != 2 {
		t.Fatalf("Expected 2 content parts, got %d", len(content))
	}
	url := content[1].(map[string]interface{})["image_url"].(map[string]interface{})["url"].(string)
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("Expected data URL, got %s", url)
	}
}

func TestExtractTextErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	o := New("test-key", server.URL)
	if _, err := o.ExtractText(context.Background(), providers.Config{Prompt: "x"}); err == nil {
		t.Error("Expected error for non-200 response")
	}
}

func TestGenerateImage(t *testing.T) {
	want := []byte("png-bytes")
	var fields []string
	var maskData []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/edits" {
			t.Errorf("Expected image edits path, got %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
			return
		}
		for name := range r.MultipartForm.File {
			fields = append(fields, name)
		}
		if f, _, err := r.FormFile("mask"); err == nil {
			maskData, _ = io.ReadAll(f)
			f.Close()
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(want)}},
		})
	}))
	defer server.Close()

	selection := image.NewAlpha(image.Rect(0, 0, 2, 1))
	selection.SetAlpha(0, 0, color.Alpha{A: 0xff})

	o := New("test-key", server.URL)
	img, err := o.GenerateImage(context.Background(), providers.Config{
		Model:  "gpt-image-1",
		Prompt: "remove it",
		Images: []providers.Image{{Data: []byte("a"), MIMEType: "image/png"}},
	}, &providers.Image{Data: pngBytes(t, selection), MIMEType: "image/png"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(img.Data, want) {
		t.Errorf("Expected %q, got %q", want, img.Data)
	}
	if len(fields) != 2 {
		t.Errorf("Expected image and mask files, got %v", fields)
	}

	m, err := png.Decode(bytes.NewReader(maskData))
	if err != nil {
		t.Fatalf("failed to decode sent mask: %v", err)
	}
	if _, _, _, a := m.At(0, 0).RGBA(); a != 0 {
		t.Errorf("Expected selected pixel to be transparent, got alpha %d", a)
	}
	if _, _, _, a := m.At(1, 0).RGBA(); a != 0xffff {
		t.Errorf("Expected unselected pixel to be opaque, got alpha %d", a)
	}
}

func TestGenerateImageNoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[]}`)
	}))
	defer server.Close()

	o := New("test-key", server.URL)
	_, err := o.GenerateImage(context.Background(), providers.Config{
		Images: []providers.Image{{Data: []byte("a"), MIMEType: "image/png"}},
	}, nil)
	if err != providers.ErrNoImage {
		t.Errorf("Expected ErrNoImage, got %v", err)
	}

	if _, err := o.GenerateImage(context.Background(), providers.Config{}, nil); err == nil {
		t.Error("Expected error without input images")
	}
}
