package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Params is the typed parameter payload of one tool invocation. The set of
// implementations is closed; Kind reports which tool the payload belongs to.
type Params interface {
	Kind() Kind
	isParams()
}

// UploadParams records the initial image load.
type UploadParams struct {
	Filename string `json:"filename,omitempty"`
}

type BackgroundRemovalParams struct{}

type RelightParams struct {
	Prompt    string `json:"prompt"`
	Direction string `json:"direction,omitempty"` // left, right, top, front, back
}

// FaceSwapParams carries the source face image. Intensity is the initial
// preview opacity in percent; zero means 100.
type FaceSwapParams struct {
	SourceImage    []byte `json:"source_image,omitempty"`
	SourceImageURL string `json:"source_image_url,omitempty"`
	Intensity      int    `json:"intensity,omitempty"`
}

type StyleTransferParams struct {
	Prompt         string `json:"prompt"`
	ReferenceImage []byte `json:"reference_image,omitempty"`
}

type ExpandParams struct {
	AspectRatio string `json:"aspect_ratio"`
	Prompt      string `json:"prompt,omitempty"`
}

type ObjectRemovalParams struct {
	Prompt string `json:"prompt,omitempty"`
}

type LocalAdjustParams struct {
	Prompt string `json:"prompt"`
}

type GenerativeFillParams struct {
	Prompt string `json:"prompt"`
}

// TextParams describes a text layer. Size is a percentage of the canvas
// height; X and Y are fractions of the canvas width and height.
type TextParams struct {
	Content string  `json:"content"`
	Font    string  `json:"font,omitempty"`
	Size    float64 `json:"size,omitempty"`
	Color   string  `json:"color,omitempty"`
	Align   string  `json:"align,omitempty"`
	Bold    bool    `json:"bold,omitempty"`
	Italic  bool    `json:"italic,omitempty"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

type LayerSelectParams struct {
	LayerID string `json:"layer_id"`
}

type LayerRemoveParams struct {
	LayerID string `json:"layer_id"`
}

func (UploadParams) Kind() Kind            { return KindUpload }
func (BackgroundRemovalParams) Kind() Kind { return KindBackgroundRemoval }
func (RelightParams) Kind() Kind           { return KindRelight }
func (FaceSwapParams) Kind() Kind          { return KindFaceSwap }
func (StyleTransferParams) Kind() Kind     { return KindStyleTransfer }
func (ExpandParams) Kind() Kind            { return KindExpand }
func (ObjectRemovalParams) Kind() Kind     { return KindObjectRemoval }
func (LocalAdjustParams) Kind() Kind       { return KindLocalAdjust }
func (GenerativeFillParams) Kind() Kind    { return KindGenerativeFill }
func (TextParams) Kind() Kind              { return KindText }
func (LayerSelectParams) Kind() Kind       { return KindLayerSelect }
func (LayerRemoveParams) Kind() Kind       { return KindLayerRemove }

func (UploadParams) isParams()            {}
func (BackgroundRemovalParams) isParams() {}
func (RelightParams) isParams()           {}
func (FaceSwapParams) isParams()          {}
func (StyleTransferParams) isParams()     {}
func (ExpandParams) isParams()            {}
func (ObjectRemovalParams) isParams()     {}
func (LocalAdjustParams) isParams()       {}
func (GenerativeFillParams) isParams()    {}
func (TextParams) isParams()              {}
func (LayerSelectParams) isParams()       {}
func (LayerRemoveParams) isParams()       {}

// DecodeParams decodes the JSON payload for the given tool. An empty payload
// decodes to the zero value.
func DecodeParams(k Kind, raw json.RawMessage) (Params, error) {
	switch k {
	case KindUpload:
		return decodeInto[UploadParams](raw)
	case KindBackgroundRemoval:
		return decodeInto[BackgroundRemovalParams](raw)
	case KindRelight:
		return decodeInto[RelightParams](raw)
	case KindFaceSwap:
		return decodeInto[FaceSwapParams](raw)
	case KindStyleTransfer:
		return decodeInto[StyleTransferParams](raw)
	case KindExpand:
		return decodeInto[ExpandParams](raw)
	case KindObjectRemoval:
		return decodeInto[ObjectRemovalParams](raw)
	case KindLocalAdjust:
		return decodeInto[LocalAdjustParams](raw)
	case KindGenerativeFill:
		return decodeInto[GenerativeFillParams](raw)
	case KindText:
		return decodeInto[TextParams](raw)
	case KindLayerSelect:
		return decodeInto[LayerSelectParams](raw)
	case KindLayerRemove:
		return decodeInto[LayerRemoveParams](raw)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTool, int(k))
	}
}

func decodeInto[T Params](raw json.RawMessage) (Params, error) {
	var p T
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid %s parameters: %v", ErrValidation, p.Kind(), err)
	}
	return p, nil
}

// Prompt returns the free-text instruction carried by the parameters, if any.
func Prompt(p Params) string {
	switch p := p.(type) {
	case RelightParams:
		return p.Prompt
	case StyleTransferParams:
		return p.Prompt
	case ExpandParams:
		return p.Prompt
	case ObjectRemovalParams:
		return p.Prompt
	case LocalAdjustParams:
		return p.Prompt
	case GenerativeFillParams:
		return p.Prompt
	default:
		return ""
	}
}

// SecondaryImages returns the extra input images carried by the parameters.
func SecondaryImages(p Params) [][]byte {
	switch p := p.(type) {
	case FaceSwapParams:
		if len(p.SourceImage) > 0 {
			return [][]byte{p.SourceImage}
		}
	case StyleTransferParams:
		if len(p.ReferenceImage) > 0 {
			return [][]byte{p.ReferenceImage}
		}
	}
	return nil
}

// InitialOpacity is the preview opacity a fresh candidate starts with.
func InitialOpacity(p Params) int {
	if fs, ok := p.(FaceSwapParams); ok && fs.Intensity > 0 && fs.Intensity <= 100 {
		return fs.Intensity
	}
	return 100
}

var aspectRatios = map[string]bool{
	"1:1": true, "4:3": true, "3:4": true, "16:9": true, "9:16": true, "3:2": true, "2:3": true,
}

// Validate checks the payload's own fields. Checks that depend on session
// state, such as a non-empty mask, are made by the session.
func Validate(p Params) error {
	caps := CapabilitiesOf(p.Kind())
	if caps.RequiresPrompt && strings.TrimSpace(Prompt(p)) == "" {
		return fmt.Errorf("%w: %s requires a prompt", ErrValidation, p.Kind())
	}
	if caps.RequiresMultipleImages && len(SecondaryImages(p)) == 0 {
		return fmt.Errorf("%w: %s requires a second image", ErrValidation, p.Kind())
	}

	switch p := p.(type) {
	case ExpandParams:
		if !aspectRatios[p.AspectRatio] {
			return fmt.Errorf("%w: unsupported aspect ratio %q", ErrValidation, p.AspectRatio)
		}
	case FaceSwapParams:
		if p.Intensity < 0 || p.Intensity > 100 {
			return fmt.Errorf("%w: intensity must be between 0 and 100", ErrValidation)
		}
	case TextParams:
		if strings.TrimSpace(p.Content) == "" {
			return fmt.Errorf("%w: text content is required", ErrValidation)
		}
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return fmt.Errorf("%w: text position must be within the canvas", ErrValidation)
		}
		if p.Size < 0 || p.Size > 100 {
			return fmt.Errorf("%w: text size must be between 0 and 100 percent", ErrValidation)
		}
		switch p.Align {
		case "", "left", "center", "right":
		default:
			return fmt.Errorf("%w: unsupported alignment %q", ErrValidation, p.Align)
		}
	case LayerSelectParams:
		if p.LayerID == "" {
			return fmt.Errorf("%w: layer_id is required", ErrValidation)
		}
	case LayerRemoveParams:
		if p.LayerID == "" {
			return fmt.Errorf("%w: layer_id is required", ErrValidation)
		}
	}
	return nil
}
