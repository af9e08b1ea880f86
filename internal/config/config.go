package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/lehigh-university-libraries/retoucher/internal/layers"
	"github.com/lehigh-university-libraries/retoucher/internal/session"
	"gopkg.in/yaml.v3"
)

// Config is the contents of retoucher.yaml
type Config struct {
	Server    Server    `yaml:"server"`
	Providers Providers `yaml:"providers"`
	Editor    Editor    `yaml:"editor"`
	Storage   Storage   `yaml:"storage"`
}

type Server struct {
	Port string `yaml:"port"`
	// MaxUploadMB caps multipart uploads and fetched source images.
	MaxUploadMB int64 `yaml:"max_upload_mb"`
}

// Providers selects which remote models answer text and image requests.
type Providers struct {
	Text          string  `yaml:"text"`
	TextModel     string  `yaml:"text_model"`
	Image         string  `yaml:"image"`
	ImageModel    string  `yaml:"image_model"`
	Temperature   float64 `yaml:"temperature"`
	GeminiAPIKey  string  `yaml:"gemini_api_key"`
	OpenAIAPIKey  string  `yaml:"openai_api_key"`
	OpenAIBaseURL string  `yaml:"openai_base_url"`
	OllamaURL     string  `yaml:"ollama_url"`
}

type Editor struct {
	BrushRadius      float64 `yaml:"brush_radius"`
	DetectionPadding float64 `yaml:"detection_padding"`
	MaskThreshold    uint8   `yaml:"mask_threshold"`
	ViewportWidth    int     `yaml:"viewport_width"`
	ViewportHeight   int     `yaml:"viewport_height"`
	CheckSpecificity bool    `yaml:"check_specificity"`
	MaxPixels        int     `yaml:"max_pixels"`
}

type Storage struct {
	WorkflowDB string `yaml:"workflow_db"`
}

const maxViewportSide = 16384

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: Server{
			Port:        "8888",
			MaxUploadMB: 32,
		},
		Providers: Providers{
			Text:        "gemini",
			Image:       "gemini",
			Temperature: 0.1,
		},
		Editor: Editor{
			BrushRadius:      20,
			DetectionPadding: 0.05,
			ViewportWidth:    1024,
			ViewportHeight:   768,
			CheckSpecificity: true,
			MaxPixels:        layers.DefaultMaxPixels,
		},
		Storage: Storage{
			WorkflowDB: "retoucher.db",
		},
	}
}

// Load reads the YAML file at path over the defaults and then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Server.Port, "PORT")
	set(&c.Providers.Text, "RETOUCHER_PROVIDER")
	set(&c.Providers.Image, "RETOUCHER_IMAGE_PROVIDER")
	set(&c.Providers.GeminiAPIKey, "GEMINI_API_KEY")
	set(&c.Providers.OpenAIAPIKey, "OPENAI_API_KEY")
	set(&c.Providers.OllamaURL, "OLLAMA_URL")
	set(&c.Storage.WorkflowDB, "RETOUCHER_DB")

	if v := os.Getenv("RETOUCHER_TEMPERATURE"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			c.Providers.Temperature = t
		}
	}
}

// Validate rejects values the editor cannot run with.
func (c Config) Validate() error {
	switch c.Providers.Text {
	case "gemini", "openai", "ollama":
	default:
		return fmt.Errorf("unsupported text provider: %s", c.Providers.Text)
	}
	switch c.Providers.Image {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unsupported image provider: %s", c.Providers.Image)
	}
	if c.Editor.BrushRadius <= 0 {
		return fmt.Errorf("brush_radius must be positive")
	}
	if c.Editor.DetectionPadding < 0 || c.Editor.DetectionPadding > 1 {
		return fmt.Errorf("detection_padding must be between 0 and 1")
	}
	if c.Editor.ViewportWidth <= 0 || c.Editor.ViewportHeight <= 0 {
		return fmt.Errorf("viewport size must be positive")
	}
	if c.Editor.ViewportWidth > maxViewportSide || c.Editor.ViewportHeight > maxViewportSide {
		return fmt.Errorf("viewport size must not exceed %d", maxViewportSide)
	}
	if c.Editor.MaxPixels <= 0 {
		return fmt.Errorf("max_pixels must be positive")
	}
	return nil
}

// SessionOptions maps the editor section onto session options.
func (c Config) SessionOptions() session.Options {
	return session.Options{
		BrushRadius:      c.Editor.BrushRadius,
		DetectionPadding: c.Editor.DetectionPadding,
		MaskThreshold:    c.Editor.MaskThreshold,
		ViewportWidth:    c.Editor.ViewportWidth,
		ViewportHeight:   c.Editor.ViewportHeight,
		CheckSpecificity: c.Editor.CheckSpecificity,
		MaxPixels:        c.Editor.MaxPixels,
	}
}
