package gemini

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/lehigh-university-libraries/retoucher/internal/providers"
	"google.golang.org/api/option"
)

// Gemini is a provider for Google Gemini
type Gemini struct {
	APIKey string
}

// New returns a new Gemini provider. An empty key falls back to
// GEMINI_API_KEY at call time.
func New(apiKey string) *Gemini {
	return &Gemini{APIKey: apiKey}
}

func (g *Gemini) client(ctx context.Context) (*genai.Client, error) {
	apiKey := g.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create new gemini client: %w", err)
	}
	return client, nil
}

func parts(config providers.Config, mask *providers.Image) []genai.Part {
	var out []genai.Part
	for _, img := range config.Images {
		out = append(out, genai.Blob{MIMEType: img.MIMEType, Data: img.Data})
	}
	if mask != nil {
		out = append(out, genai.Blob{MIMEType: mask.MIMEType, Data: mask.Data})
	}
	return append(out, genai.Text(config.Prompt))
}

func (g *Gemini) generate(ctx context.Context, config providers.Config, mask *providers.Image) (*genai.Candidate, error) {
	client, err := g.client(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	model := client.GenerativeModel(config.Model)
	model.SetTemperature(float32(config.Temperature))
	if config.JSON {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, parts(config, mask)...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates returned from Gemini")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, fmt.Errorf("empty content returned from Gemini")
	}
	return candidate, nil
}

// ExtractText sends the prompt and any images to Gemini and returns the text reply
func (g *Gemini) ExtractText(ctx context.Context, config providers.Config) (string, error) {
	candidate, err := g.generate(ctx, config, nil)
	if err != nil {
		return "", err
	}

	if txt, ok := candidate.Content.Parts[0].(genai.Text); ok {
		return string(txt), nil
	}

	return "", fmt.Errorf("unexpected response format from Gemini")
}

// GenerateImage asks an image-capable Gemini model for an edited image and
// returns the first inline image part of the reply.
func (g *Gemini) GenerateImage(ctx context.Context, config providers.Config, mask *providers.Image) (*providers.Image, error) {
	candidate, err := g.generate(ctx, config, mask)
	if err != nil {
		return nil, err
	}

	var text []string
	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Blob:
			if strings.HasPrefix(p.MIMEType, "image/") {
				return &providers.Image{Data: p.Data, MIMEType: p.MIMEType}, nil
			}
		case genai.Text:
			text = append(text, string(p))
		}
	}
	if len(text) > 0 {
		return nil, fmt.Errorf("%w: %s", providers.ErrNoImage, strings.Join(text, " "))
	}
	return nil, providers.ErrNoImage
}
