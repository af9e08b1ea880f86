package generation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/retoucher/internal/config"
	"github.com/lehigh-university-libraries/retoucher/internal/models"
	"github.com/lehigh-university-libraries/retoucher/internal/providers"
	"github.com/lehigh-university-libraries/retoucher/internal/session"
	"github.com/lehigh-university-libraries/retoucher/internal/tools"
)

var _ session.Backend = (*Service)(nil)

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

type fakeText struct {
	reply string
	err   error
	got   providers.Config
}

func (f *fakeText) ExtractText(ctx context.Context, config providers.Config) (string, error) {
	f.got = config
	return f.reply, f.err
}

type fakeImage struct {
	out  *providers.Image
	err  error
	got  providers.Config
	mask *providers.Image
}

func (f *fakeImage) GenerateImage(ctx context.Context, config providers.Config, mask *providers.Image) (*providers.Image, error) {
	f.got = config
	f.mask = mask
	return f.out, f.err
}

func TestGenerate(t *testing.T) {
	img := &fakeImage{out: &providers.Image{Data: []byte("result"), MIMEType: "image/png"}}
	s := New(&fakeText{}, img, "text-model", "image-model", 0.2)

	out, err := s.Generate(context.Background(), models.GenerateRequest{
		Tool:      tools.KindGenerativeFill,
		Params:    tools.GenerativeFillParams{Prompt: "a red balloon"},
		Image:     pngHeader,
		Secondary: [][]byte{pngHeader},
		Mask:      pngHeader,
		Prompt:    "a red balloon",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out.Data) != "result" || out.MIMEType != "image/png" {
		t.Errorf("Unexpected output: %+v", out)
	}
	if img.got.Model != "image-model" {
		t.Errorf("Expected image-model, got %s", img.got.Model)
	}
	if len(img.got.Images) != 2 {
		t.Errorf("Expected 2 images, got %d", len(img.got.Images))
	}
	if img.got.Images[0].MIMEType != "image/png" {
		t.Errorf("Expected sniffed image/png, got %s", img.got.Images[0].MIMEType)
	}
	if img.mask == nil {
		t.Error("Expected mask to be forwarded")
	}
	if !strings.Contains(img.got.Prompt, "a red balloon") {
		t.Errorf("Expected prompt to carry user text, got %q", img.got.Prompt)
	}
}

func TestGenerateErrors(t *testing.T) {
	s := New(&fakeText{}, &fakeImage{err: providers.ErrNoImage}, "", "", 0)

	if _, err := s.Generate(context.Background(), models.GenerateRequest{Tool: tools.KindBackgroundRemoval}); err == nil {
		t.Error("Expected error without input image")
	}

	_, err := s.Generate(context.Background(), models.GenerateRequest{
		Tool:   tools.KindBackgroundRemoval,
		Params: tools.BackgroundRemovalParams{},
		Image:  pngHeader,
	})
	if !errors.Is(err, providers.ErrNoImage) {
		t.Errorf("Expected wrapped ErrNoImage, got %v", err)
	}
}

func TestInstruction(t *testing.T) {
	tests := []struct {
		name     string
		req      models.GenerateRequest
		contains []string
	}{
		{
			name:     "relight direction",
			req:      models.GenerateRequest{Params: tools.RelightParams{Prompt: "golden hour", Direction: "left"}, Prompt: "golden hour"},
			contains: []string{"golden hour", "from the left"},
		},
		{
			name:     "expand ratio",
			req:      models.GenerateRequest{Params: tools.ExpandParams{AspectRatio: "16:9"}},
			contains: []string{"16:9"},
		},
		{
			name:     "masked adjust",
			req:      models.GenerateRequest{Params: tools.LocalAdjustParams{Prompt: "brighter"}, Prompt: "brighter", Mask: pngHeader},
			contains: []string{"brighter", "mask"},
		},
		{
			name:     "face swap",
			req:      models.GenerateRequest{Params: tools.FaceSwapParams{}},
			contains: []string{"second image"},
		},
		{
			name:     "unmasked fill",
			req:      models.GenerateRequest{Params: tools.GenerativeFillParams{Prompt: "clouds"}, Prompt: "clouds"},
			contains: []string{"the whole image", "clouds"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Instruction(tt.req)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("Expected %q in %q", want, got)
				}
			}
		})
	}
}

func TestParseDetections(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    []models.DetectedObject
		wantErr bool
	}{
		{
			name:  "object document",
			reply: `{"objects": [{"label": "dog", "box_2d": [100, 200, 500, 600]}]}`,
			want:  []models.DetectedObject{{Label: "dog", Box: models.BoundingBox{XMin: 0.2, YMin: 0.1, XMax: 0.6, YMax: 0.5}}},
		},
		{
			name:  "fenced array",
			reply: "```json\n[{\"label\": \"cat\", \"box_2d\": [0, 0, 1000, 1200]}]\n```",
			want:  []models.DetectedObject{{Label: "cat", Box: models.BoundingBox{XMin: 0, YMin: 0, XMax: 1, YMax: 1}}},
		},
		{
			name:  "malformed box skipped",
			reply: `{"objects": [{"label": "x", "box_2d": [1, 2]}]}`,
			want:  []models.DetectedObject{},
		},
		{
			name:    "not json",
			reply:   "I see a dog",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDetections(tt.reply)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d objects, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Expected %+v, got %+v", tt.want[i], got[i])
				}
			}
		})
	}
}

func TestDetect(t *testing.T) {
	text := &fakeText{reply: `{"objects": [{"label": "person", "box_2d": [250, 250, 750, 750]}]}`}
	s := New(text, &fakeImage{}, "text-model", "", 0)

	objects, err := s.Detect(context.Background(), pngHeader, "person")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(objects) != 1 || objects[0].Label != "person" {
		t.Fatalf("Unexpected objects: %+v", objects)
	}
	if !text.got.JSON || len(text.got.Images) != 1 {
		t.Errorf("Expected a JSON request with one image, got %+v", text.got)
	}
}

func TestEnhancePrompt(t *testing.T) {
	text := &fakeText{reply: "```json\n{\"prompt\": \"soft warm light from the upper left\"}\n```"}
	s := New(text, &fakeImage{}, "", "", 0)

	got, err := s.EnhancePrompt(context.Background(), "warmer", tools.KindRelight)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "soft warm light from the upper left" {
		t.Errorf("Unexpected prompt %q", got)
	}
	if !strings.Contains(text.got.Prompt, "relight") {
		t.Errorf("Expected tool name in request, got %q", text.got.Prompt)
	}

	text.reply = `{"prompt": ""}`
	if _, err := s.EnhancePrompt(context.Background(), "warmer", tools.KindRelight); err == nil {
		t.Error("Expected error for empty enhancement")
	}
}

func TestValidateSpecificity(t *testing.T) {
	text := &fakeText{reply: `{"is_specific": false, "suggestion": "make the sky deep orange"}`}
	s := New(text, &fakeImage{}, "", "", 0)

	got, err := s.ValidateSpecificity(context.Background(), "make it better", "relight")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.IsSpecific || got.Suggestion != "make the sky deep orange" {
		t.Errorf("Unexpected result %+v", got)
	}

	text.err = errors.New("offline")
	if _, err := s.ValidateSpecificity(context.Background(), "x", "relight"); err == nil {
		t.Error("Expected provider error")
	}
}

func TestNewFromConfig(t *testing.T) {
	t.Setenv("OLLAMA_MODEL", "")
	t.Setenv("OPENAI_IMAGE_MODEL", "")

	s, err := NewFromConfig(config.Providers{Text: "ollama", Image: "openai"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.textModel != "mistral-small3.2:24b" {
		t.Errorf("Expected default ollama model, got %s", s.textModel)
	}
	if s.imageModel != "gpt-image-1" {
		t.Errorf("Expected default image model, got %s", s.imageModel)
	}

	if _, err := NewFromConfig(config.Providers{Text: "ollama", Image: "ollama"}); err == nil {
		t.Error("Expected error for text-only image provider")
	}
	if _, err := NewFromConfig(config.Providers{Text: "unknown", Image: "gemini"}); err == nil {
		t.Error("Expected error for unknown provider")
	}
}
