// Package tools defines the closed set of editing tools, their typed
// parameters, the inputs each one needs and how its result is blended back
// into the working image.
package tools

import (
	"errors"
	"fmt"
)

// ErrUnknownTool is returned when a tool identifier is not part of the catalogue.
var ErrUnknownTool = errors.New("unknown tool")

// ErrValidation indicates that a tool's inputs are missing or malformed.
var ErrValidation = errors.New("validation failed")

// Kind identifies a tool.
type Kind int

const (
	KindUpload Kind = iota + 1
	KindBackgroundRemoval
	KindRelight
	KindFaceSwap
	KindStyleTransfer
	KindExpand
	KindObjectRemoval
	KindLocalAdjust
	KindGenerativeFill
	KindText
	KindLayerSelect
	KindLayerRemove
)

var kindNames = map[Kind]string{
	KindUpload:            "upload",
	KindBackgroundRemoval: "background-removal",
	KindRelight:           "relight",
	KindFaceSwap:          "face-swap",
	KindStyleTransfer:     "style-transfer",
	KindExpand:            "expand",
	KindObjectRemoval:     "object-removal",
	KindLocalAdjust:       "local-adjust",
	KindGenerativeFill:    "generative-fill",
	KindText:              "text",
	KindLayerSelect:       "layer-select",
	KindLayerRemove:       "layer-remove",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind resolves a tool identifier. Unregistered identifiers are an error.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTool, s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTool, int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Generative reports whether the tool produces its result through the
// generation backend.
func (k Kind) Generative() bool {
	switch k {
	case KindBackgroundRemoval, KindRelight, KindFaceSwap, KindStyleTransfer,
		KindExpand, KindObjectRemoval, KindLocalAdjust, KindGenerativeFill:
		return true
	default:
		return false
	}
}

// Selectable reports whether a user can make the tool the active one.
func (k Kind) Selectable() bool {
	return k.Generative() || k == KindText
}

// Selectable returns every tool a user can activate, in catalogue order.
func Selectable() []Kind {
	var kinds []Kind
	for k := KindUpload; k <= KindLayerRemove; k++ {
		if k.Selectable() {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Capabilities lists the inputs a tool needs before a request can be made.
type Capabilities struct {
	RequiresBaseImage      bool `json:"requires_base_image" yaml:"requires_base_image"`
	RequiresMask           bool `json:"requires_mask" yaml:"requires_mask"`
	RequiresMultipleImages bool `json:"requires_multiple_images" yaml:"requires_multiple_images"`
	RequiresPrompt         bool `json:"requires_prompt" yaml:"requires_prompt"`
}

// CapabilitiesOf returns the capability set of a tool.
func CapabilitiesOf(k Kind) Capabilities {
	switch k {
	case KindBackgroundRemoval, KindExpand:
		return Capabilities{RequiresBaseImage: true}
	case KindRelight, KindStyleTransfer:
		return Capabilities{RequiresBaseImage: true, RequiresPrompt: true}
	case KindFaceSwap:
		return Capabilities{RequiresBaseImage: true, RequiresMultipleImages: true}
	case KindObjectRemoval:
		return Capabilities{RequiresBaseImage: true, RequiresMask: true}
	case KindLocalAdjust, KindGenerativeFill:
		return Capabilities{RequiresBaseImage: true, RequiresMask: true, RequiresPrompt: true}
	default:
		return Capabilities{}
	}
}

// Policy selects how a generated candidate is merged with the pre-edit image.
type Policy int

const (
	PolicyReplace Policy = iota
	PolicyMaskBlend
	PolicyOpacityBlend
)

func (p Policy) String() string {
	switch p {
	case PolicyReplace:
		return "replace"
	case PolicyMaskBlend:
		return "mask-blend"
	case PolicyOpacityBlend:
		return "opacity-blend"
	default:
		return "unknown"
	}
}

// PolicyOf returns the blend policy a tool's results are composited with.
func PolicyOf(k Kind) Policy {
	switch k {
	case KindObjectRemoval, KindLocalAdjust, KindGenerativeFill:
		return PolicyMaskBlend
	case KindFaceSwap:
		return PolicyOpacityBlend
	default:
		return PolicyReplace
	}
}

// ChecksSpecificity reports whether a tool's prompt is validated for
// specificity before a request is sent.
func ChecksSpecificity(k Kind) bool {
	switch k {
	case KindLocalAdjust, KindGenerativeFill:
		return true
	default:
		return false
	}
}
