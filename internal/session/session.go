// Package session is the editing context for one image: the active tool, the
// request lifecycle, the pending candidate, the selection mask and the commit
// history.
//
// Every command takes the session lock and completes synchronously. The only
// suspension point is a call into the Backend, made with the lock released;
// its result is applied only if the request is still the current one.
package session

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lehigh-university-libraries/retoucher/internal/compositor"
	"github.com/lehigh-university-libraries/retoucher/internal/history"
	"github.com/lehigh-university-libraries/retoucher/internal/layers"
	"github.com/lehigh-university-libraries/retoucher/internal/mask"
	"github.com/lehigh-university-libraries/retoucher/internal/models"
	"github.com/lehigh-university-libraries/retoucher/internal/tools"
	"github.com/lehigh-university-libraries/retoucher/internal/workflow"
)

// Backend is the external generation and detection service.
type Backend interface {
	Generate(ctx context.Context, req models.GenerateRequest) (models.GeneratedImage, error)
	Detect(ctx context.Context, image []byte, query string) ([]models.DetectedObject, error)
	EnhancePrompt(ctx context.Context, text string, tool tools.Kind) (string, error)
	ValidateSpecificity(ctx context.Context, text, toolName string) (models.Specificity, error)
}

// State is the request lifecycle of a session.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateSuccess
	StateFailure
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Options tune mask and request behaviour.
type Options struct {
	BrushRadius      float64
	DetectionPadding float64
	MaskThreshold    uint8
	ViewportWidth    int
	ViewportHeight   int
	CheckSpecificity bool
	// MaxPixels bounds generated images; see layers.DecodeAsset.
	MaxPixels int
}

// ToolHistoryItem is one applied edit in the append-only tool log.
type ToolHistoryItem struct {
	Tool   tools.Kind   `json:"tool"`
	Params tools.Params `json:"params"`
	At     time.Time    `json:"at"`
}

// Event is delivered to listeners after a state change.
type Event struct {
	SessionID string
	Reason    string
	State     State
}

// candidate is a generated result awaiting commit or discard.
type candidate struct {
	tool    tools.Kind
	params  tools.Params
	layerID string
	policy  tools.Policy

	original *image.RGBA
	image    *image.RGBA
	mask     *image.Alpha

	opacity int
	split   int
	blended *image.RGBA
}

// Session owns one image's editing state.
type Session struct {
	ID        string
	Filename  string
	CreatedAt time.Time

	backend Backend
	opts    Options

	mu           sync.Mutex
	history      *history.Manager
	mask         *mask.Canvas
	maskLayerID  string
	mode         mask.Mode
	viewW, viewH int
	tool         tools.Kind
	state        State
	loadingTool  tools.Kind
	errMsg       string
	gen          uint64
	cancel       context.CancelFunc
	pending      *candidate
	detections   []models.DetectedObject
	enhancing    int
	log          []ToolHistoryItem
	guide        *workflow.Guide
	closed       bool

	listenerMu sync.RWMutex
	listeners  []func(Event)
}

// New starts a session on an uploaded image. The upload is the first history
// entry, so undo never goes past it.
func New(asset *layers.Asset, filename string, backend Backend, opts Options) (*Session, error) {
	s := &Session{
		ID:        uuid.NewString(),
		Filename:  filename,
		CreatedAt: time.Now(),
		backend:   backend,
		opts:      opts,
		history:   history.New(),
		mode:      mask.ModeBrush,
		viewW:     opts.ViewportWidth,
		viewH:     opts.ViewportHeight,
	}
	if err := s.history.Commit(layers.NewImageStack(asset), tools.KindUpload, tools.UploadParams{Filename: filename}); err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	s.syncMask()
	slog.Debug("Session created", "session_id", s.ID, "width", asset.Width(), "height", asset.Height())
	return s, nil
}

// OnChange registers a listener called after every state change.
func (s *Session) OnChange(fn func(Event)) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) emit(ev Event) {
	s.listenerMu.RLock()
	listeners := make([]func(Event), len(s.listeners))
	copy(listeners, s.listeners)
	s.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// update runs fn under the session lock and notifies listeners once the lock
// is released. Nothing is emitted when fn fails.
func (s *Session) update(reason string, fn func() error) error {
	ev, err := s.apply(reason, fn)
	if err == nil {
		s.emit(ev)
	}
	return err
}

func (s *Session) apply(reason string, fn func() error) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Event{}, ErrClosed
	}
	if err := fn(); err != nil {
		return Event{}, err
	}
	return Event{SessionID: s.ID, Reason: reason, State: s.state}, nil
}

// current returns the committed stack under the cursor. The history always
// holds the upload entry, so it never comes back empty.
func (s *Session) current() layers.Stack {
	e, _ := s.history.Current()
	return e.Stack
}

// target is the image layer masks and generation apply to: the active layer
// when it is an image, the base layer otherwise.
func (s *Session) target(stack layers.Stack) (layers.Layer, bool) {
	if l, ok := stack.Active(); ok && l.Type == layers.TypeImage {
		return l, true
	}
	return stack.Base()
}

// syncMask replaces the mask with an empty one whenever the active layer has
// changed since the mask was created.
func (s *Session) syncMask() {
	stack := s.current()
	if s.mask != nil && s.maskLayerID == stack.ActiveLayerID {
		return
	}
	radius := s.opts.BrushRadius
	if s.mask != nil {
		radius = s.mask.BrushRadius()
	}
	w, h := stack.Size()
	if l, ok := s.target(stack); ok {
		w, h = l.Asset.Width(), l.Asset.Height()
	}
	s.mask = mask.NewCanvas(w, h, s.viewW, s.viewH)
	s.mask.SetBrushRadius(radius)
	s.maskLayerID = stack.ActiveLayerID
	s.detections = nil
}

// supersede invalidates any in-flight request. Its result will be dropped
// on arrival and its context is cancelled.
func (s *Session) supersede() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.state == StateLoading {
		s.state = StateIdle
		s.loadingTool = 0
	}
}

// reset returns to IDLE with no candidate, error or mask.
func (s *Session) reset() {
	s.pending = nil
	s.state = StateIdle
	s.loadingTool = 0
	s.errMsg = ""
	s.mask.Clear()
}

// SetActiveTool switches tools. Zero selects no tool. Any pending candidate,
// mask or in-flight request of the previous tool is dropped.
func (s *Session) SetActiveTool(k tools.Kind) error {
	if k != 0 && !k.Selectable() {
		return fmt.Errorf("%w: %s cannot be selected", tools.ErrUnknownTool, k)
	}
	return s.update("tool", func() error {
		s.supersede()
		s.reset()
		s.detections = nil
		s.tool = k
		return nil
	})
}

// ActiveTool returns the selected tool and whether one is selected.
func (s *Session) ActiveTool() (tools.Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tool, s.tool != 0
}

// State returns the lifecycle state and the error message of a failure.
func (s *Session) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.errMsg
}

// Commit makes the pending candidate permanent. The candidate replaces its
// target layer in a new stack, which is recorded as a history entry.
func (s *Session) Commit() error {
	return s.update("commit", func() error {
		c := s.pending
		if c == nil {
			return ErrNoCandidate
		}
		stack := s.current()
		if _, ok := stack.Find(c.layerID); !ok {
			s.reset()
			return fmt.Errorf("%w: layer %s is no longer in the stack", ErrStaleResult, c.layerID)
		}
		next, err := stack.WithImage(c.layerID, layers.NewAsset(c.blended))
		if err != nil {
			s.reset()
			return err
		}
		if err := s.history.Commit(next, c.tool, c.params); err != nil {
			s.reset()
			return err
		}
		s.record(c.tool, c.params)
		s.reset()
		s.syncMask()
		slog.Info("Committed edit", "session_id", s.ID, "tool", c.tool, "history_length", s.history.Len())
		return nil
	})
}

// record appends to the tool log and moves a loaded workflow forward.
func (s *Session) record(k tools.Kind, p tools.Params) {
	s.log = append(s.log, ToolHistoryItem{Tool: k, Params: p, At: time.Now()})
	if s.guide == nil || !s.guide.Advance(k) {
		return
	}
	if next, ok := s.guide.Next(); ok {
		s.tool = next
	}
}

// Discard drops the pending candidate and clears the mask.
func (s *Session) Discard() error {
	return s.update("discard", func() error {
		if s.pending == nil {
			return ErrNoCandidate
		}
		s.reset()
		return nil
	})
}

// AcknowledgeError dismisses a failure and returns to IDLE.
func (s *Session) AcknowledgeError() error {
	return s.update("dismiss", func() error {
		if s.state == StateFailure {
			s.state = StateIdle
			s.errMsg = ""
		}
		return nil
	})
}

// Undo moves back one history entry, dropping any pending candidate or
// in-flight request. At the first entry it reports false and changes nothing.
func (s *Session) Undo() bool {
	return s.navigate("undo", s.history.CanUndo, s.history.Undo)
}

// Redo moves forward one history entry. At the newest entry it reports false
// and changes nothing.
func (s *Session) Redo() bool {
	return s.navigate("redo", s.history.CanRedo, s.history.Redo)
}

func (s *Session) navigate(reason string, can, move func() bool) bool {
	moved := false
	_ = s.update(reason, func() error {
		if !can() {
			return nil
		}
		s.supersede()
		s.reset()
		moved = move()
		s.syncMask()
		return nil
	})
	return moved
}

// SelectLayer makes id the active layer. The change is a history entry so
// undo restores the previous selection.
func (s *Session) SelectLayer(id string) error {
	p := tools.LayerSelectParams{LayerID: id}
	if err := tools.Validate(p); err != nil {
		return err
	}
	return s.update("layer-select", func() error {
		stack := s.current()
		if stack.ActiveLayerID == id {
			return nil
		}
		next, err := stack.WithActive(id)
		if err != nil {
			return err
		}
		if err := s.history.Commit(next, tools.KindLayerSelect, p); err != nil {
			return err
		}
		s.supersede()
		s.reset()
		s.syncMask()
		return nil
	})
}

// RemoveLayer removes a layer other than the base image.
func (s *Session) RemoveLayer(id string) error {
	p := tools.LayerRemoveParams{LayerID: id}
	if err := tools.Validate(p); err != nil {
		return err
	}
	return s.update("layer-remove", func() error {
		next, err := s.current().WithoutLayer(id)
		if err != nil {
			return err
		}
		if err := s.history.Commit(next, tools.KindLayerRemove, p); err != nil {
			return err
		}
		s.supersede()
		s.reset()
		s.syncMask()
		return nil
	})
}

// AddText commits a new text layer on top of the stack.
func (s *Session) AddText(p tools.TextParams) error {
	if err := tools.Validate(p); err != nil {
		return err
	}
	if p.Font != "" && p.Font != "regular" && p.Font != "mono" {
		return fmt.Errorf("%w: unsupported font %q", tools.ErrValidation, p.Font)
	}
	if p.Color != "" {
		if _, err := layers.ParseColor(p.Color); err != nil {
			return fmt.Errorf("%w: %v", tools.ErrValidation, err)
		}
	}
	layer := layers.NewTextLayer(layers.Text{
		Content: p.Content,
		Font:    p.Font,
		Size:    p.Size,
		Color:   p.Color,
		Align:   layers.Align(p.Align),
		Bold:    p.Bold,
		Italic:  p.Italic,
		X:       p.X,
		Y:       p.Y,
	})
	return s.update("text", func() error {
		if err := s.history.Commit(s.current().WithLayer(layer), tools.KindText, p); err != nil {
			return err
		}
		s.supersede()
		s.record(tools.KindText, p)
		s.reset()
		s.syncMask()
		return nil
	})
}

// SetPreview changes the opacity and split position of the pending
// candidate. A split of zero turns the comparison view off.
func (s *Session) SetPreview(opacity, split int) error {
	if opacity < 0 || opacity > 100 {
		return fmt.Errorf("%w: opacity must be between 0 and 100", tools.ErrValidation)
	}
	if split < 0 || split > 100 {
		return fmt.Errorf("%w: split must be between 0 and 100", tools.ErrValidation)
	}
	return s.update("preview", func() error {
		if s.pending == nil {
			return ErrNoCandidate
		}
		s.pending.opacity = opacity
		s.pending.split = split
		s.compose(s.pending)
		return nil
	})
}

func (s *Session) compose(c *candidate) {
	c.blended = compositor.Compose(c.policy, c.original, c.image, compositor.Options{
		Mask:      c.mask,
		Opacity:   c.opacity,
		Threshold: s.opts.MaskThreshold,
	})
}

// Frame is what the viewer shows: the pending candidate in place of its
// layer while one exists, the committed composite otherwise.
func (s *Session) Frame() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()

	stack := s.current()
	c := s.pending
	if c == nil {
		return stack.Render()
	}
	var shown image.Image = c.blended
	if c.split > 0 {
		shown = compositor.Split(c.original, c.blended, c.split)
	}
	return stack.RenderWith(c.layerID, shown)
}

// Stack returns a copy of the committed layer stack.
func (s *Session) Stack() layers.Stack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current()
}

// ToolHistory returns a copy of the tool log.
func (s *Session) ToolHistory() []ToolHistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ToolHistoryItem(nil), s.log...)
}

// Workflow builds a workflow from the tools applied so far.
func (s *Session) Workflow(name string) workflow.Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := workflow.Workflow{Name: name}
	for _, item := range s.log {
		w.Tools = append(w.Tools, item.Tool)
	}
	return w
}

// LoadWorkflow starts a guided replay: the first step's tool becomes active
// and each commit of the expected tool activates the next one.
func (s *Session) LoadWorkflow(w workflow.Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	return s.update("workflow", func() error {
		s.guide = workflow.NewGuide(w)
		s.supersede()
		s.reset()
		s.tool, _ = s.guide.Next()
		return nil
	})
}

// Close tears the session down. In-flight requests are cancelled and every
// later command returns ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.supersede()
	s.pending = nil
	s.closed = true
	ev := Event{SessionID: s.ID, Reason: "close", State: s.state}
	s.mu.Unlock()

	s.emit(ev)
	slog.Debug("Session closed", "session_id", s.ID)
}
