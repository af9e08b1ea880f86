// Package layers provides the layer model and the ordered layer stack that
// composes the visible image.
package layers

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUnknownLayer is returned when a layer id does not reference a layer in
// the stack.
var ErrUnknownLayer = errors.New("unknown layer")

// Type is the layer variant.
type Type string

const (
	TypeImage Type = "image"
	TypeText  Type = "text"
)

// Align is the horizontal alignment of a text layer around its anchor.
type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// Text holds the content and styling of a text layer.
type Text struct {
	Content string  `json:"content"`
	Font    string  `json:"font"`
	Size    float64 `json:"size"` // percent of canvas height
	Color   string  `json:"color"`
	Align   Align   `json:"align"`
	Bold    bool    `json:"bold"`
	Italic  bool    `json:"italic"`
	X       float64 `json:"x"` // fraction of canvas width
	Y       float64 `json:"y"` // fraction of canvas height
}

// Layer is one unit of visual content. Layers are values; an edit produces a
// new layer with a new id rather than changing an existing one.
type Layer struct {
	ID    string
	Type  Type
	Asset *Asset
	Text  *Text
}

// NewImageLayer creates an image layer with a fresh id.
func NewImageLayer(asset *Asset) Layer {
	return Layer{ID: uuid.NewString(), Type: TypeImage, Asset: asset}
}

// NewTextLayer creates a text layer with a fresh id.
func NewTextLayer(text Text) Layer {
	if text.Font == "" {
		text.Font = "regular"
	}
	if text.Size == 0 {
		text.Size = 8
	}
	if text.Color == "" {
		text.Color = "#ffffff"
	}
	if text.Align == "" {
		text.Align = AlignCenter
	}
	return Layer{ID: uuid.NewString(), Type: TypeText, Text: &text}
}

func (l Layer) clone() Layer {
	if l.Text != nil {
		t := *l.Text
		l.Text = &t
	}
	return l
}

// Stack is the ordered sequence of layers, first drawn first, plus the id of
// the active layer.
type Stack struct {
	Layers        []Layer
	ActiveLayerID string
}

// NewImageStack creates a stack holding a single, active image layer.
func NewImageStack(asset *Asset) Stack {
	l := NewImageLayer(asset)
	return Stack{Layers: []Layer{l}, ActiveLayerID: l.ID}
}

// Clone returns a deep copy of the stack's mutable parts. Assets are
// immutable and shared.
func (s Stack) Clone() Stack {
	out := Stack{ActiveLayerID: s.ActiveLayerID, Layers: make([]Layer, len(s.Layers))}
	for i, l := range s.Layers {
		out.Layers[i] = l.clone()
	}
	return out
}

// Index returns the position of the layer with the given id, or -1.
func (s Stack) Index(id string) int {
	for i, l := range s.Layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}

// Find returns the layer with the given id.
func (s Stack) Find(id string) (Layer, bool) {
	if i := s.Index(id); i >= 0 {
		return s.Layers[i], true
	}
	return Layer{}, false
}

// Active returns the active layer.
func (s Stack) Active() (Layer, bool) {
	if s.ActiveLayerID == "" {
		return Layer{}, false
	}
	return s.Find(s.ActiveLayerID)
}

// Base returns the first image layer, which defines the canvas size.
func (s Stack) Base() (Layer, bool) {
	for _, l := range s.Layers {
		if l.Type == TypeImage && l.Asset != nil {
			return l, true
		}
	}
	return Layer{}, false
}

// Size returns the canvas dimensions.
func (s Stack) Size() (int, int) {
	base, ok := s.Base()
	if !ok {
		return 0, 0
	}
	return base.Asset.Width(), base.Asset.Height()
}

// Validate checks the stack's invariants.
func (s Stack) Validate() error {
	seen := make(map[string]bool, len(s.Layers))
	for _, l := range s.Layers {
		if l.ID == "" {
			return fmt.Errorf("layer without id")
		}
		if seen[l.ID] {
			return fmt.Errorf("duplicate layer id %s", l.ID)
		}
		seen[l.ID] = true
		switch l.Type {
		case TypeImage:
			if l.Asset == nil {
				return fmt.Errorf("image layer %s has no asset", l.ID)
			}
		case TypeText:
			if l.Text == nil {
				return fmt.Errorf("text layer %s has no text", l.ID)
			}
		default:
			return fmt.Errorf("layer %s has unknown type %q", l.ID, l.Type)
		}
	}
	if s.ActiveLayerID != "" && !seen[s.ActiveLayerID] {
		return fmt.Errorf("%w: active layer %s", ErrUnknownLayer, s.ActiveLayerID)
	}
	return nil
}

// WithImage returns a copy of the stack in which the layer with the given id
// is replaced by a new image layer holding asset. The active pointer follows
// the replacement.
func (s Stack) WithImage(id string, asset *Asset) (Stack, error) {
	i := s.Index(id)
	if i < 0 {
		return Stack{}, fmt.Errorf("%w: %s", ErrUnknownLayer, id)
	}
	out := s.Clone()
	replacement := NewImageLayer(asset)
	out.Layers[i] = replacement
	if out.ActiveLayerID == id {
		out.ActiveLayerID = replacement.ID
	}
	return out, nil
}

// WithLayer returns a copy of the stack with l appended on top and active.
func (s Stack) WithLayer(l Layer) Stack {
	out := s.Clone()
	out.Layers = append(out.Layers, l.clone())
	out.ActiveLayerID = l.ID
	return out
}

// WithActive returns a copy of the stack with a different active layer.
func (s Stack) WithActive(id string) (Stack, error) {
	if s.Index(id) < 0 {
		return Stack{}, fmt.Errorf("%w: %s", ErrUnknownLayer, id)
	}
	out := s.Clone()
	out.ActiveLayerID = id
	return out, nil
}

// WithoutLayer returns a copy of the stack without the given layer. The base
// image layer cannot be removed. If the removed layer was active, the layer
// now on top becomes active.
func (s Stack) WithoutLayer(id string) (Stack, error) {
	i := s.Index(id)
	if i < 0 {
		return Stack{}, fmt.Errorf("%w: %s", ErrUnknownLayer, id)
	}
	if base, ok := s.Base(); ok && base.ID == id {
		return Stack{}, fmt.Errorf("cannot remove the base image layer")
	}
	out := s.Clone()
	out.Layers = append(out.Layers[:i], out.Layers[i+1:]...)
	if out.ActiveLayerID == id {
		out.ActiveLayerID = out.Layers[len(out.Layers)-1].ID
	}
	return out, nil
}
