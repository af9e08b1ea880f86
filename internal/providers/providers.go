package providers

import (
	"context"
	"errors"
)

// ErrNoImage is returned when a model answers without image data.
var ErrNoImage = errors.New("no image in response")

// Image is an encoded image passed to or returned from a model.
type Image struct {
	Data     []byte
	MIMEType string
}

// Config represents the configuration for an LLM provider
type Config struct {
	Model       string
	Temperature float64
	Prompt      string
	// Images are sent along with the prompt, in order.
	Images []Image
	// JSON asks the model for a JSON document instead of prose.
	JSON bool
}

// Provider defines the interface for an LLM provider
type Provider interface {
	ExtractText(ctx context.Context, config Config) (string, error)
}

// ImageProvider is a provider that can return an edited or generated image.
// mask, when not nil, marks the region to change with opaque pixels.
type ImageProvider interface {
	GenerateImage(ctx context.Context, config Config, mask *Image) (*Image, error)
}
