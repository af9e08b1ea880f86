package models

import (
	"time"

	"github.com/lehigh-university-libraries/retoucher/internal/tools"
)

// BoundingBox is a detection region normalized to [0,1] in both axes.
type BoundingBox struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Valid reports whether the box has a positive area inside the unit square.
func (b BoundingBox) Valid() bool {
	return b.XMin >= 0 && b.YMin >= 0 && b.XMax <= 1 && b.YMax <= 1 &&
		b.XMax > b.XMin && b.YMax > b.YMin
}

// DetectedObject is a labelled region returned by the detection backend
type DetectedObject struct {
	Label string      `json:"label"`
	Box   BoundingBox `json:"box"`
}

// Specificity is the result of a prompt pre-flight check
type Specificity struct {
	IsSpecific bool   `json:"is_specific"`
	Suggestion string `json:"suggestion,omitempty"`
}

// SessionView is the JSON representation of an editing session
type SessionView struct {
	ID          string           `json:"id"`
	Filename    string           `json:"filename,omitempty"`
	State       string           `json:"state"`
	ActiveTool  string           `json:"active_tool,omitempty"`
	LoadingTool string           `json:"loading_tool,omitempty"`
	Error       string           `json:"error,omitempty"`
	Enhancing   bool             `json:"enhancing"`
	Width       int              `json:"width"`
	Height      int              `json:"height"`
	Layers      []LayerView      `json:"layers"`
	ActiveLayer string           `json:"active_layer_id,omitempty"`
	History     HistoryView      `json:"history"`
	Mask        MaskView         `json:"mask"`
	Detections  []DetectedObject `json:"detections"`
	Candidate   *CandidateView   `json:"candidate,omitempty"`
	Tools       []ToolView       `json:"tools"`
	Workflow    *WorkflowView    `json:"workflow,omitempty"`
	ToolHistory []string         `json:"tool_history"`
	CreatedAt   time.Time        `json:"created_at"`
}

// LayerView describes one layer without its pixels
type LayerView struct {
	ID     string   `json:"id"`
	Type   string   `json:"type"`
	Width  int      `json:"width,omitempty"`
	Height int      `json:"height,omitempty"`
	Format string   `json:"format,omitempty"`
	Text   *TextView `json:"text,omitempty"`
}

// TextView mirrors a text layer's content and styling
type TextView struct {
	Content string  `json:"content"`
	Font    string  `json:"font"`
	Size    float64 `json:"size"`
	Color   string  `json:"color"`
	Align   string  `json:"align"`
	Bold    bool    `json:"bold"`
	Italic  bool    `json:"italic"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// HistoryView summarises the undo/redo log
type HistoryView struct {
	Length  int            `json:"length"`
	Cursor  int            `json:"cursor"`
	CanUndo bool           `json:"can_undo"`
	CanRedo bool           `json:"can_redo"`
	Entries []HistoryEntry `json:"entries"`
}

// HistoryEntry summarises one committed state
type HistoryEntry struct {
	Tool       string `json:"tool"`
	LayerCount int    `json:"layer_count"`
	Current    bool   `json:"current"`
}

// MaskView describes the selection mask
type MaskView struct {
	Empty          bool    `json:"empty"`
	Mode           string  `json:"mode"`
	BrushRadius    float64 `json:"brush_radius"`
	ViewportWidth  int     `json:"viewport_width"`
	ViewportHeight int     `json:"viewport_height"`
}

// CandidateView describes a generated result awaiting acceptance
type CandidateView struct {
	Tool    string `json:"tool"`
	Policy  string `json:"policy"`
	Opacity int    `json:"opacity"`
	Split   int    `json:"split"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// ToolView describes a tool and whether it can run right now
type ToolView struct {
	ID                     string `json:"id"`
	RequiresBaseImage      bool   `json:"requires_base_image"`
	RequiresMask           bool   `json:"requires_mask"`
	RequiresMultipleImages bool   `json:"requires_multiple_images"`
	RequiresPrompt         bool   `json:"requires_prompt"`
	CanGenerate            bool   `json:"can_generate"`
	Active                 bool   `json:"active"`
}

// WorkflowView describes a loaded guided workflow
type WorkflowView struct {
	Name  string   `json:"name"`
	Tools []string `json:"tools"`
	Next  string   `json:"next,omitempty"`
	Step  int      `json:"step"`
	Done  bool     `json:"done"`
}

// GenerateRequest is everything the generation backend needs for one call.
// Images are PNG encoded; Image is the current frame of the active layer and
// Mask, when present, is at the same native resolution.
type GenerateRequest struct {
	Tool      tools.Kind
	Params    tools.Params
	Image     []byte
	Secondary [][]byte
	Mask      []byte
	Prompt    string
}

// GeneratedImage is the raw result of a generation call.
type GeneratedImage struct {
	Data     []byte
	MIMEType string
}
