package session

import (
	"github.com/lehigh-university-libraries/retoucher/internal/layers"
	"github.com/lehigh-university-libraries/retoucher/internal/models"
	"github.com/lehigh-university-libraries/retoucher/internal/tools"
)

// Snapshot returns the read model served to clients.
func (s *Session) Snapshot() models.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	stack := s.current()
	w, h := stack.Size()
	vw, vh := s.mask.ViewportSize()

	v := models.SessionView{
		ID:          s.ID,
		Filename:    s.Filename,
		State:       s.state.String(),
		Error:       s.errMsg,
		Enhancing:   s.enhancing > 0,
		Width:       w,
		Height:      h,
		Layers:      make([]models.LayerView, 0, len(stack.Layers)),
		ActiveLayer: stack.ActiveLayerID,
		History: models.HistoryView{
			Length:  s.history.Len(),
			Cursor:  s.history.Cursor(),
			CanUndo: s.history.CanUndo(),
			CanRedo: s.history.CanRedo(),
		},
		Mask: models.MaskView{
			Empty:          s.mask.Empty(),
			Mode:           string(s.mode),
			BrushRadius:    s.mask.BrushRadius(),
			ViewportWidth:  vw,
			ViewportHeight: vh,
		},
		Detections:  append([]models.DetectedObject{}, s.detections...),
		ToolHistory: make([]string, 0, len(s.log)),
		CreatedAt:   s.CreatedAt,
	}
	if s.tool != 0 {
		v.ActiveTool = s.tool.String()
	}
	if s.loadingTool != 0 {
		v.LoadingTool = s.loadingTool.String()
	}

	for _, l := range stack.Layers {
		v.Layers = append(v.Layers, layerView(l))
	}
	for _, e := range s.history.Summaries() {
		v.History.Entries = append(v.History.Entries, models.HistoryEntry{
			Tool:       e.Tool.String(),
			LayerCount: e.LayerCount,
			Current:    e.Current,
		})
	}
	for _, item := range s.log {
		v.ToolHistory = append(v.ToolHistory, item.Tool.String())
	}

	_, hasImage := s.target(stack)
	for _, k := range tools.Selectable() {
		caps := tools.CapabilitiesOf(k)
		v.Tools = append(v.Tools, models.ToolView{
			ID:                     k.String(),
			RequiresBaseImage:      caps.RequiresBaseImage,
			RequiresMask:           caps.RequiresMask,
			RequiresMultipleImages: caps.RequiresMultipleImages,
			RequiresPrompt:         caps.RequiresPrompt,
			CanGenerate:            k.Generative() && hasImage && (!caps.RequiresMask || !s.mask.Empty()),
			Active:                 k == s.tool,
		})
	}

	if c := s.pending; c != nil {
		b := c.blended.Bounds()
		v.Candidate = &models.CandidateView{
			Tool:    c.tool.String(),
			Policy:  c.policy.String(),
			Opacity: c.opacity,
			Split:   c.split,
			Width:   b.Dx(),
			Height:  b.Dy(),
		}
	}

	if s.guide != nil {
		wf := s.guide.Workflow()
		v.Workflow = &models.WorkflowView{
			Name:  wf.Name,
			Tools: wf.Names(),
			Step:  s.guide.Step(),
			Done:  s.guide.Done(),
		}
		if next, ok := s.guide.Next(); ok {
			v.Workflow.Next = next.String()
		}
	}
	return v
}

func layerView(l layers.Layer) models.LayerView {
	v := models.LayerView{ID: l.ID, Type: string(l.Type)}
	switch l.Type {
	case layers.TypeImage:
		v.Width = l.Asset.Width()
		v.Height = l.Asset.Height()
		v.Format = l.Asset.Format()
	case layers.TypeText:
		t := l.Text
		v.Text = &models.TextView{
			Content: t.Content,
			Font:    t.Font,
			Size:    t.Size,
			Color:   t.Color,
			Align:   string(t.Align),
			Bold:    t.Bold,
			Italic:  t.Italic,
			X:       t.X,
			Y:       t.Y,
		}
	}
	return v
}
