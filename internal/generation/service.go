package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/lehigh-university-libraries/retoucher/internal/config"
	"github.com/lehigh-university-libraries/retoucher/internal/gemini"
	"github.com/lehigh-university-libraries/retoucher/internal/models"
	"github.com/lehigh-university-libraries/retoucher/internal/ollama"
	"github.com/lehigh-university-libraries/retoucher/internal/openai"
	"github.com/lehigh-university-libraries/retoucher/internal/providers"
	"github.com/lehigh-university-libraries/retoucher/internal/tools"
)

// Service answers editor requests with remote models. It satisfies
// session.Backend.
type Service struct {
	text        providers.Provider
	image       providers.ImageProvider
	textModel   string
	imageModel  string
	temperature float64
}

// New wires a service from explicit providers.
func New(text providers.Provider, image providers.ImageProvider, textModel, imageModel string, temperature float64) *Service {
	return &Service{
		text:        text,
		image:       image,
		textModel:   textModel,
		imageModel:  imageModel,
		temperature: temperature,
	}
}

// NewFromConfig picks providers and models by name.
func NewFromConfig(cfg config.Providers) (*Service, error) {
	var text providers.Provider
	switch cfg.Text {
	case "gemini":
		text = gemini.New(cfg.GeminiAPIKey)
	case "openai":
		text = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	case "ollama":
		text = ollama.New(cfg.OllamaURL)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Text)
	}

	var image providers.ImageProvider
	switch cfg.Image {
	case "gemini":
		image = gemini.New(cfg.GeminiAPIKey)
	case "openai":
		image = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	default:
		return nil, fmt.Errorf("unsupported image provider: %s", cfg.Image)
	}

	textModel := cfg.TextModel
	if textModel == "" {
		textModel = defaultTextModel(cfg.Text)
	}
	imageModel := cfg.ImageModel
	if imageModel == "" {
		imageModel = defaultImageModel(cfg.Image)
	}

	slog.Info("Generation service configured", "text_provider", cfg.Text, "text_model", textModel, "image_provider", cfg.Image, "image_model", imageModel)
	return New(text, image, textModel, imageModel, cfg.Temperature), nil
}

func defaultTextModel(provider string) string {
	switch provider {
	case "gemini":
		return envOr("GEMINI_MODEL", "gemini-2.5-flash")
	case "openai":
		return envOr("OPENAI_MODEL", "gpt-4o")
	case "ollama":
		return envOr("OLLAMA_MODEL", "mistral-small3.2:24b")
	default:
		return ""
	}
}

func defaultImageModel(provider string) string {
	switch provider {
	case "gemini":
		return envOr("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image")
	case "openai":
		return envOr("OPENAI_IMAGE_MODEL", "gpt-image-1")
	default:
		return ""
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func asImage(data []byte) providers.Image {
	return providers.Image{Data: data, MIMEType: http.DetectContentType(data)}
}

// Generate runs one image edit.
func (s *Service) Generate(ctx context.Context, req models.GenerateRequest) (models.GeneratedImage, error) {
	if len(req.Image) == 0 {
		return models.GeneratedImage{}, fmt.Errorf("no input image")
	}

	images := []providers.Image{asImage(req.Image)}
	for _, data := range req.Secondary {
		images = append(images, asImage(data))
	}
	var mask *providers.Image
	if len(req.Mask) > 0 {
		m := asImage(req.Mask)
		mask = &m
	}

	prompt := Instruction(req)
	slog.Debug("Generating image", "tool", req.Tool, "model", s.imageModel, "images", len(images), "mask", mask != nil)

	out, err := s.image.GenerateImage(ctx, providers.Config{
		Model:       s.imageModel,
		Temperature: s.temperature,
		Prompt:      prompt,
		Images:      images,
	}, mask)
	if err != nil {
		return models.GeneratedImage{}, fmt.Errorf("failed to generate image: %w", err)
	}

	slog.Info("Generated image", "tool", req.Tool, "bytes", len(out.Data))
	return models.GeneratedImage{Data: out.Data, MIMEType: out.MIMEType}, nil
}

// Instruction builds the model instruction for a tool request.
func Instruction(req models.GenerateRequest) string {
	prompt := strings.TrimSpace(req.Prompt)
	masked := len(req.Mask) > 0
	region := "the whole image"
	if masked {
		region = "only the area marked by the mask image; leave every other pixel unchanged"
	}

	var b strings.Builder
	switch p := req.Params.(type) {
	case tools.BackgroundRemovalParams:
		b.WriteString("Remove the background from this image. Keep the main subject intact with clean edges and make everything else fully transparent.")
	case tools.RelightParams:
		fmt.Fprintf(&b, "Relight this image: %s.", prompt)
		if p.Direction != "" {
			fmt.Fprintf(&b, " The key light comes from the %s.", p.Direction)
		}
		b.WriteString(" Preserve the composition, identity and detail.")
	case tools.FaceSwapParams:
		b.WriteString("Replace the face in the first image with the face from the second image. Match skin tone, lighting, angle and expression to the first image.")
	case tools.StyleTransferParams:
		fmt.Fprintf(&b, "Restyle this image: %s.", prompt)
		if len(p.ReferenceImage) > 0 {
			b.WriteString(" Use the second image as the style reference.")
		}
		b.WriteString(" Keep the content and layout of the original.")
	case tools.ExpandParams:
		fmt.Fprintf(&b, "Extend this image outward to a %s aspect ratio, keeping the original content centered and unchanged.", p.AspectRatio)
		if prompt != "" {
			fmt.Fprintf(&b, " Fill the new area with: %s.", prompt)
		}
	case tools.ObjectRemovalParams:
		fmt.Fprintf(&b, "Remove the object in %s and fill the area so it matches the surrounding scene.", region)
		if prompt != "" {
			fmt.Fprintf(&b, " Object: %s.", prompt)
		}
	case tools.LocalAdjustParams:
		fmt.Fprintf(&b, "Apply this adjustment to %s: %s.", region, prompt)
	case tools.GenerativeFillParams:
		fmt.Fprintf(&b, "Fill %s with: %s. Blend lighting and perspective with the rest of the image.", region, prompt)
	default:
		b.WriteString(prompt)
	}
	if masked && b.Len() > 0 && !strings.Contains(b.String(), "mask") {
		b.WriteString(" Edit only the area marked by the mask image.")
	}
	b.WriteString(" Return a single image at the same resolution as the input.")
	return b.String()
}

// Detect finds objects matching query and returns boxes normalized to [0,1].
func (s *Service) Detect(ctx context.Context, img []byte, query string) ([]models.DetectedObject, error) {
	if query == "" {
		query = "every distinct object"
	}
	prompt := fmt.Sprintf(`Detect %s in this image.
Return JSON: {"objects": [{"label": "<name>", "box_2d": [ymin, xmin, ymax, xmax]}]}
Coordinates are integers normalized to 0-1000. Return {"objects": []} when nothing matches.`, query)

	reply, err := s.text.ExtractText(ctx, providers.Config{
		Model:       s.textModel,
		Temperature: s.temperature,
		Prompt:      prompt,
		Images:      []providers.Image{asImage(img)},
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to detect objects: %w", err)
	}

	objects, err := ParseDetections(reply)
	if err != nil {
		return nil, err
	}
	slog.Info("Detected objects", "query", query, "count", len(objects))
	return objects, nil
}

type detection struct {
	Label string    `json:"label"`
	Box   []float64 `json:"box_2d"`
}

// ParseDetections reads a detection reply. Both a bare array and an
// {"objects": [...]} document are accepted.
func ParseDetections(reply string) ([]models.DetectedObject, error) {
	reply = stripFences(reply)

	var raw []detection
	if strings.HasPrefix(reply, "[") {
		if err := json.Unmarshal([]byte(reply), &raw); err != nil {
			return nil, fmt.Errorf("failed to parse detections: %w", err)
		}
	} else {
		var doc struct {
			Objects []detection `json:"objects"`
		}
		if err := json.Unmarshal([]byte(reply), &doc); err != nil {
			return nil, fmt.Errorf("failed to parse detections: %w", err)
		}
		raw = doc.Objects
	}

	objects := make([]models.DetectedObject, 0, len(raw))
	for _, d := range raw {
		if len(d.Box) != 4 {
			slog.Warn("Skipping detection with malformed box", "label", d.Label, "box", d.Box)
			continue
		}
		objects = append(objects, models.DetectedObject{
			Label: d.Label,
			Box: models.BoundingBox{
				YMin: unit(d.Box[0]),
				XMin: unit(d.Box[1]),
				YMax: unit(d.Box[2]),
				XMax: unit(d.Box[3]),
			},
		})
	}
	return objects, nil
}

func unit(v float64) float64 {
	return min(max(v/1000, 0), 1)
}

// EnhancePrompt rewrites a prompt to be more descriptive for tool.
func (s *Service) EnhancePrompt(ctx context.Context, text string, tool tools.Kind) (string, error) {
	prompt := fmt.Sprintf(`Rewrite this instruction for the %s photo editing tool so it is concrete and descriptive.
Keep the user's intent, do not add new subjects, and keep it under 60 words.
Instruction: %q
Return JSON: {"prompt": "<rewritten instruction>"}`, tool, text)

	reply, err := s.text.ExtractText(ctx, providers.Config{
		Model:       s.textModel,
		Temperature: s.temperature,
		Prompt:      prompt,
		JSON:        true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to enhance prompt: %w", err)
	}

	var result struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(stripFences(reply)), &result); err != nil {
		return "", fmt.Errorf("failed to parse enhanced prompt: %w", err)
	}
	if strings.TrimSpace(result.Prompt) == "" {
		return "", fmt.Errorf("enhanced prompt is empty")
	}
	return strings.TrimSpace(result.Prompt), nil
}

// ValidateSpecificity asks whether text says clearly what to change.
func (s *Service) ValidateSpecificity(ctx context.Context, text, toolName string) (models.Specificity, error) {
	prompt := fmt.Sprintf(`A user of the %s photo editing tool wrote this instruction: %q
Decide whether it says specifically what to change. "make it better" is not specific; "warm golden hour light from the left" is.
Return JSON: {"is_specific": true|false, "suggestion": "<a more specific example instruction when not specific>"}`, toolName, text)

	reply, err := s.text.ExtractText(ctx, providers.Config{
		Model:       s.textModel,
		Temperature: s.temperature,
		Prompt:      prompt,
		JSON:        true,
	})
	if err != nil {
		return models.Specificity{}, fmt.Errorf("failed to validate prompt: %w", err)
	}

	var result models.Specificity
	if err := json.Unmarshal([]byte(stripFences(reply)), &result); err != nil {
		return models.Specificity{}, fmt.Errorf("failed to parse specificity: %w", err)
	}
	return result, nil
}

// stripFences trims any markdown code block around a JSON reply.
func stripFences(reply string) string {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	return strings.TrimSpace(reply)
}
