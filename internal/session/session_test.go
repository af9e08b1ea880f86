package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/retoucher/internal/layers"
	"github.com/lehigh-university-libraries/retoucher/internal/mask"
	"github.com/lehigh-university-libraries/retoucher/internal/models"
	"github.com/lehigh-university-libraries/retoucher/internal/tools"
	"github.com/lehigh-university-libraries/retoucher/internal/workflow"
)

type fakeBackend struct {
	mu          sync.Mutex
	generate    func(ctx context.Context, req models.GenerateRequest) (models.GeneratedImage, error)
	requests    []models.GenerateRequest
	detections  []models.DetectedObject
	detectErr   error
	enhanced    string
	enhanceErr  error
	specificity models.Specificity
	specErr     error
}

func (f *fakeBackend) Generate(ctx context.Context, req models.GenerateRequest) (models.GeneratedImage, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	gen := f.generate
	f.mu.Unlock()
	return gen(ctx, req)
}

func (f *fakeBackend) Detect(ctx context.Context, image []byte, query string) ([]models.DetectedObject, error) {
	return f.detections, f.detectErr
}

func (f *fakeBackend) EnhancePrompt(ctx context.Context, text string, tool tools.Kind) (string, error) {
	return f.enhanced, f.enhanceErr
}

func (f *fakeBackend) ValidateSpecificity(ctx context.Context, text, toolName string) (models.Specificity, error) {
	return f.specificity, f.specErr
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// returning makes a backend that answers every request with img.
func returning(t *testing.T, img image.Image) *fakeBackend {
	data := encode(t, img)
	return &fakeBackend{generate: func(context.Context, models.GenerateRequest) (models.GeneratedImage, error) {
		return models.GeneratedImage{Data: data, MIMEType: "image/png"}, nil
	}}
}

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
)

func newSession(t *testing.T, b Backend) *Session {
	t.Helper()
	s, err := New(layers.NewAsset(solid(8, 8, red)), "a.png", b, Options{BrushRadius: 2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestNewSession(t *testing.T) {
	s := newSession(t, returning(t, solid(8, 8, green)))
	v := s.Snapshot()

	if v.State != "idle" || v.ActiveTool != "" {
		t.Errorf("Expected idle with no tool, got %s %q", v.State, v.ActiveTool)
	}
	if v.History.Length != 1 || v.History.Cursor != 0 || v.History.CanUndo {
		t.Errorf("Expected upload as the only entry, got %+v", v.History)
	}
	if v.Width != 8 || v.Height != 8 || len(v.Layers) != 1 {
		t.Errorf("Unexpected canvas: %dx%d with %d layers", v.Width, v.Height, len(v.Layers))
	}
	if len(v.Tools) != len(tools.Selectable()) {
		t.Errorf("Expected every selectable tool listed, got %d", len(v.Tools))
	}
}

func TestBackgroundRemovalUndoRedo(t *testing.T) {
	s := newSession(t, returning(t, solid(8, 8, green)))
	before := s.Frame()

	if err := s.SetActiveTool(tools.KindBackgroundRemoval); err != nil {
		t.Fatal(err)
	}
	if err := s.Generate(context.Background(), tools.BackgroundRemovalParams{}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if st, _ := s.State(); st != StateSuccess {
		t.Errorf("Expected success state, got %v", st)
	}
	if !bytes.Equal(s.Stack().Render().Pix, before.Pix) {
		t.Error("Expected the committed stack to be unchanged before commit")
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	after := s.Frame()
	if after.RGBAAt(0, 0) != green {
		t.Errorf("Expected committed result, got %v", after.RGBAAt(0, 0))
	}

	if !s.Undo() {
		t.Fatal("Expected undo to succeed")
	}
	if !bytes.Equal(s.Frame().Pix, before.Pix) {
		t.Error("Expected undo to restore the original pixels exactly")
	}
	if !s.Redo() {
		t.Fatal("Expected redo to succeed")
	}
	if !bytes.Equal(s.Frame().Pix, after.Pix) {
		t.Error("Expected redo to restore the edited pixels exactly")
	}
	if s.Redo() {
		t.Error("Expected redo at the newest entry to be a no-op")
	}

	v := s.Snapshot()
	if v.History.Length != 2 || len(v.ToolHistory) != 1 || v.ToolHistory[0] != "background-removal" {
		t.Errorf("Unexpected history %+v tool log %v", v.History, v.ToolHistory)
	}
}

func TestGenerateValidatesBeforeCalling(t *testing.T) {
	fb := returning(t, solid(8, 8, green))
	s := newSession(t, fb)

	if err := s.Generate(context.Background(), tools.BackgroundRemovalParams{}); !errors.Is(err, tools.ErrValidation) {
		t.Errorf("Expected validation error without a tool, got %v", err)
	}

	_ = s.SetActiveTool(tools.KindRelight)
	if err := s.Generate(context.Background(), tools.BackgroundRemovalParams{}); !errors.Is(err, tools.ErrValidation) {
		t.Errorf("Expected validation error for mismatched params, got %v", err)
	}
	if err := s.Generate(context.Background(), tools.RelightParams{}); !errors.Is(err, tools.ErrValidation) {
		t.Errorf("Expected validation error for a missing prompt, got %v", err)
	}

	_ = s.SetActiveTool(tools.KindObjectRemoval)
	if err := s.Generate(context.Background(), tools.ObjectRemovalParams{}); !errors.Is(err, tools.ErrValidation) {
		t.Errorf("Expected validation error for an empty mask, got %v", err)
	}

	if fb.calls() != 0 {
		t.Errorf("Expected no backend calls, got %d", fb.calls())
	}
	if st, _ := s.State(); st != StateIdle {
		t.Errorf("Expected idle after rejected requests, got %v", st)
	}
}

func TestFailureKeepsCommittedFrame(t *testing.T) {
	fb := &fakeBackend{generate: func(context.Context, models.GenerateRequest) (models.GeneratedImage, error) {
		return models.GeneratedImage{}, errors.New("quota exceeded")
	}}
	s := newSession(t, fb)
	before := s.Frame()

	_ = s.SetActiveTool(tools.KindStyleTransfer)
	err := s.Generate(context.Background(), tools.StyleTransferParams{Prompt: "watercolor"})
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("Expected ErrGeneration, got %v", err)
	}
	st, msg := s.State()
	if st != StateFailure || msg != "quota exceeded" {
		t.Errorf("Expected failure with message, got %v %q", st, msg)
	}
	if !bytes.Equal(s.Frame().Pix, before.Pix) {
		t.Error("Expected the committed frame to stay authoritative")
	}
	if err := s.Commit(); !errors.Is(err, ErrNoCandidate) {
		t.Errorf("Expected ErrNoCandidate, got %v", err)
	}

	if err := s.AcknowledgeError(); err != nil {
		t.Fatal(err)
	}
	if st, msg := s.State(); st != StateIdle || msg != "" {
		t.Errorf("Expected idle after acknowledging, got %v %q", st, msg)
	}
}

func TestMalformedResponseIsFailure(t *testing.T) {
	fb := &fakeBackend{generate: func(context.Context, models.GenerateRequest) (models.GeneratedImage, error) {
		return models.GeneratedImage{Data: []byte("<html>")}, nil
	}}
	s := newSession(t, fb)
	_ = s.SetActiveTool(tools.KindBackgroundRemoval)

	if err := s.Generate(context.Background(), tools.BackgroundRemovalParams{}); !errors.Is(err, ErrGeneration) {
		t.Errorf("Expected ErrGeneration, got %v", err)
	}
	if s.Snapshot().Candidate != nil {
		t.Error("Expected no candidate")
	}
}

// blocking returns a backend whose first call waits for release.
func blocking(t *testing.T, img image.Image) (*fakeBackend, chan struct{}, chan struct{}) {
	data := encode(t, img)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fb := &fakeBackend{}
	fb.generate = func(ctx context.Context, req models.GenerateRequest) (models.GeneratedImage, error) {
		first := false
		once.Do(func() { first = true })
		if first {
			close(started)
			<-release
		}
		return models.GeneratedImage{Data: data}, nil
	}
	return fb, started, release
}

func TestStaleResultAfterLayerChange(t *testing.T) {
	fb, started, release := blocking(t, solid(8, 8, green))
	s := newSession(t, fb)
	baseID := s.Stack().Layers[0].ID
	if err := s.AddText(tools.TextParams{Content: "hi", X: 0.5, Y: 0.5}); err != nil {
		t.Fatal(err)
	}
	_ = s.SetActiveTool(tools.KindRelight)
	historyLen := s.Snapshot().History.Length

	errc := make(chan error, 1)
	go func() {
		errc <- s.Generate(context.Background(), tools.RelightParams{Prompt: "golden hour"})
	}()
	<-started

	if st, _ := s.State(); st != StateLoading {
		t.Errorf("Expected loading while the request is in flight, got %v", st)
	}
	if err := s.SelectLayer(baseID); err != nil {
		t.Fatal(err)
	}
	close(release)

	if err := <-errc; !errors.Is(err, ErrStaleResult) {
		t.Errorf("Expected ErrStaleResult, got %v", err)
	}
	v := s.Snapshot()
	if v.Candidate != nil {
		t.Error("Expected the stale result not to be composited")
	}
	if v.History.Length != historyLen+1 {
		t.Errorf("Expected only the layer selection to be committed, got %d entries", v.History.Length)
	}
	if v.State != "idle" {
		t.Errorf("Expected idle, got %s", v.State)
	}
	if s.Frame().RGBAAt(0, 0) != red {
		t.Error("Expected the stale result not to reach the frame")
	}
}

func TestStaleResultAfterToolChange(t *testing.T) {
	fb, started, release := blocking(t, solid(8, 8, green))
	s := newSession(t, fb)
	_ = s.SetActiveTool(tools.KindBackgroundRemoval)

	errc := make(chan error, 1)
	go func() {
		errc <- s.Generate(context.Background(), tools.BackgroundRemovalParams{})
	}()
	<-started
	_ = s.SetActiveTool(tools.KindExpand)
	close(release)

	if err := <-errc; !errors.Is(err, ErrStaleResult) {
		t.Errorf("Expected ErrStaleResult, got %v", err)
	}
	if s.Snapshot().Candidate != nil {
		t.Error("Expected no candidate after a tool change")
	}
}

func TestLastRequestWins(t *testing.T) {
	fb, started, release := blocking(t, solid(8, 8, green))
	s := newSession(t, fb)
	_ = s.SetActiveTool(tools.KindBackgroundRemoval)

	errc := make(chan error, 1)
	go func() {
		errc <- s.Generate(context.Background(), tools.BackgroundRemovalParams{})
	}()
	<-started

	if err := s.Generate(context.Background(), tools.BackgroundRemovalParams{}); err != nil {
		t.Fatalf("Expected the newer request to succeed, got %v", err)
	}
	close(release)
	if err := <-errc; !errors.Is(err, ErrStaleResult) {
		t.Errorf("Expected the superseded request to be discarded, got %v", err)
	}
	if st, _ := s.State(); st != StateSuccess {
		t.Errorf("Expected the newer candidate to remain, got %v", st)
	}
}

func TestSupersededRequestIsCancelled(t *testing.T) {
	entered := make(chan struct{})
	cancelled := make(chan struct{})
	fb := &fakeBackend{generate: func(ctx context.Context, req models.GenerateRequest) (models.GeneratedImage, error) {
		close(entered)
		<-ctx.Done()
		close(cancelled)
		return models.GeneratedImage{}, ctx.Err()
	}}
	s := newSession(t, fb)
	_ = s.SetActiveTool(tools.KindBackgroundRemoval)

	errc := make(chan error, 1)
	go func() {
		errc <- s.Generate(context.Background(), tools.BackgroundRemovalParams{})
	}()
	<-entered
	s.Close()
	<-cancelled

	if err := <-errc; !errors.Is(err, ErrStaleResult) {
		t.Errorf("Expected ErrStaleResult after close, got %v", err)
	}
	if err := s.SetActiveTool(tools.KindRelight); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestMaskBlendLeavesUnselectedPixels(t *testing.T) {
	fb := returning(t, solid(8, 8, blue))
	s := newSession(t, fb)
	_ = s.SetActiveTool(tools.KindLocalAdjust)
	if err := s.Stroke(mask.Viewport{}, []mask.Point{{X: 1, Y: 1}}); err != nil {
		t.Fatal(err)
	}

	if err := s.Generate(context.Background(), tools.LocalAdjustParams{Prompt: "brighten"}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(fb.requests[0].Mask) == 0 {
		t.Error("Expected the mask to be sent with the request")
	}
	if err := s.Commit(); err != nil {
		t.Fatal(err)
	}

	frame := s.Frame()
	if frame.RGBAAt(1, 1) != blue {
		t.Errorf("Expected selected pixel to take the candidate, got %v", frame.RGBAAt(1, 1))
	}
	if frame.RGBAAt(7, 7) != red {
		t.Errorf("Expected unselected pixel to be unchanged, got %v", frame.RGBAAt(7, 7))
	}
	if !s.Snapshot().Mask.Empty {
		t.Error("Expected commit to clear the mask")
	}
}

func TestPreviewOpacityAndSplit(t *testing.T) {
	fb := returning(t, solid(8, 8, green))
	s := newSession(t, fb)
	_ = s.SetActiveTool(tools.KindFaceSwap)

	err := s.Generate(context.Background(), tools.FaceSwapParams{SourceImage: encode(t, solid(2, 2, blue)), Intensity: 40})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got := s.Snapshot().Candidate.Opacity; got != 40 {
		t.Errorf("Expected initial opacity 40, got %d", got)
	}

	if err := s.SetPreview(0, 0); err != nil {
		t.Fatal(err)
	}
	if s.Frame().RGBAAt(4, 4) != red {
		t.Error("Expected opacity 0 to show the original")
	}

	if err := s.SetPreview(100, 50); err != nil {
		t.Fatal(err)
	}
	frame := s.Frame()
	if frame.RGBAAt(1, 4) != green || frame.RGBAAt(6, 4) != red {
		t.Errorf("Expected split view, got %v and %v", frame.RGBAAt(1, 4), frame.RGBAAt(6, 4))
	}

	if err := s.SetPreview(101, 0); !errors.Is(err, tools.ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}

	if err := s.Commit(); err != nil {
		t.Fatal(err)
	}
	if s.Frame().RGBAAt(6, 4) != green {
		t.Error("Expected commit to use the blended frame, not the split view")
	}
}

func TestDiscard(t *testing.T) {
	s := newSession(t, returning(t, solid(8, 8, green)))
	_ = s.SetActiveTool(tools.KindExpand)

	if err := s.Discard(); !errors.Is(err, ErrNoCandidate) {
		t.Errorf("Expected ErrNoCandidate, got %v", err)
	}
	_ = s.Generate(context.Background(), tools.ExpandParams{AspectRatio: "16:9"})
	if err := s.Discard(); err != nil {
		t.Fatal(err)
	}
	v := s.Snapshot()
	if v.Candidate != nil || v.State != "idle" || v.History.Length != 1 {
		t.Errorf("Expected discard to return to idle without history, got %+v", v)
	}
}

func TestReplaceWithResizedCandidate(t *testing.T) {
	s := newSession(t, returning(t, solid(16, 8, green)))
	_ = s.SetActiveTool(tools.KindExpand)

	if err := s.Generate(context.Background(), tools.ExpandParams{AspectRatio: "16:9"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(); err != nil {
		t.Fatal(err)
	}
	if w, h := s.Stack().Size(); w != 16 || h != 8 {
		t.Errorf("Expected expanded canvas 16x8, got %dx%d", w, h)
	}
	if w := s.ExportMask().Bounds().Dx(); w != 16 {
		t.Errorf("Expected the mask to follow the new layer size, got width %d", w)
	}
}

func TestSetActiveToolClearsState(t *testing.T) {
	s := newSession(t, returning(t, solid(8, 8, green)))
	_ = s.SetActiveTool(tools.KindBackgroundRemoval)
	_ = s.Generate(context.Background(), tools.BackgroundRemovalParams{})
	_ = s.StartStroke(mask.Point{X: 4, Y: 4})

	if err := s.SetActiveTool(tools.KindRelight); err != nil {
		t.Fatal(err)
	}
	v := s.Snapshot()
	if v.Candidate != nil || !v.Mask.Empty {
		t.Error("Expected tool change to drop candidate and mask")
	}
	if err := s.SetActiveTool(tools.KindLayerSelect); !errors.Is(err, tools.ErrUnknownTool) {
		t.Errorf("Expected ErrUnknownTool, got %v", err)
	}
	if err := s.SetActiveTool(0); err != nil {
		t.Errorf("Expected clearing the tool to succeed, got %v", err)
	}
}

func TestSpecificityShortCircuits(t *testing.T) {
	fb := returning(t, solid(8, 8, green))
	fb.specificity = models.Specificity{IsSpecific: false, Suggestion: "say which region"}
	s, err := New(layers.NewAsset(solid(8, 8, red)), "", fb, Options{CheckSpecificity: true, BrushRadius: 3})
	if err != nil {
		t.Fatal(err)
	}
	_ = s.SetActiveTool(tools.KindGenerativeFill)
	_ = s.StartStroke(mask.Point{X: 4, Y: 4})

	err = s.Generate(context.Background(), tools.GenerativeFillParams{Prompt: "something"})
	var specErr *SpecificityError
	if !errors.As(err, &specErr) || specErr.Suggestion != "say which region" {
		t.Fatalf("Expected SpecificityError with suggestion, got %v", err)
	}
	if fb.calls() != 0 {
		t.Error("Expected no generation call")
	}
	if st, _ := s.State(); st != StateIdle {
		t.Errorf("Expected idle, got %v", st)
	}

	fb.specErr = errors.New("checker down")
	if err := s.Generate(context.Background(), tools.GenerativeFillParams{Prompt: "a red kite"}); err != nil {
		t.Errorf("Expected a failing check to let the request through, got %v", err)
	}
}

func TestEnhancePrompt(t *testing.T) {
	fb := returning(t, solid(8, 8, green))
	fb.enhanced = "a dramatic sunset with warm rim light"
	s := newSession(t, fb)

	got, err := s.EnhancePrompt(context.Background(), "sunset")
	if err != nil || got != fb.enhanced {
		t.Errorf("Expected enhanced text, got %q %v", got, err)
	}

	fb.enhanceErr = errors.New("offline")
	got, err = s.EnhancePrompt(context.Background(), "sunset")
	if err != nil || got != "sunset" {
		t.Errorf("Expected the original text on failure, got %q %v", got, err)
	}
	if s.Snapshot().Enhancing {
		t.Error("Expected enhancing flag to be cleared")
	}
}

func TestDetectAndSelect(t *testing.T) {
	fb := returning(t, solid(8, 8, green))
	fb.detections = []models.DetectedObject{
		{Label: "face", Box: models.BoundingBox{XMin: 0.25, YMin: 0.25, XMax: 0.5, YMax: 0.5}},
		{Label: "broken", Box: models.BoundingBox{XMin: 0.5, XMax: 0.2, YMax: 1}},
	}
	s := newSession(t, fb)

	found, err := s.Detect(context.Background(), "face")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("Expected invalid boxes to be dropped, got %d", len(found))
	}
	if err := s.SetSelectionMode(mask.ModeObject); err != nil {
		t.Fatal(err)
	}
	if err := s.SelectDetection(0); err != nil {
		t.Fatalf("SelectDetection failed: %v", err)
	}
	if s.ExportMask().AlphaAt(3, 3).A != 0xff {
		t.Error("Expected the detection to be selected")
	}
	if err := s.SelectDetection(5); !errors.Is(err, tools.ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}

	fb.detections = nil
	found, err = s.Detect(context.Background(), "")
	if err != nil || len(found) != 0 {
		t.Errorf("Expected zero detections to succeed, got %v %v", found, err)
	}
}

func TestSelectionModeChangeClearsMask(t *testing.T) {
	s := newSession(t, returning(t, solid(8, 8, green)))
	_ = s.StartStroke(mask.Point{X: 4, Y: 4})
	_ = s.SetSelectionMode(mask.ModeObject)
	if !s.Snapshot().Mask.Empty {
		t.Error("Expected mode switch to clear the mask")
	}
}

func TestLayerCommands(t *testing.T) {
	s := newSession(t, returning(t, solid(8, 8, green)))
	baseID := s.Stack().Layers[0].ID

	if err := s.AddText(tools.TextParams{Content: "caption", Y: 0.9, Font: "comic"}); !errors.Is(err, tools.ErrValidation) {
		t.Errorf("Expected unsupported font to fail, got %v", err)
	}
	if err := s.AddText(tools.TextParams{Content: "caption", X: 0.5, Y: 0.9}); err != nil {
		t.Fatal(err)
	}
	stack := s.Stack()
	textID := stack.ActiveLayerID
	if len(stack.Layers) != 2 || textID == baseID {
		t.Fatalf("Expected an active text layer, got %+v", stack)
	}
	if err := s.SelectLayer("nope"); !errors.Is(err, layers.ErrUnknownLayer) {
		t.Errorf("Expected ErrUnknownLayer, got %v", err)
	}
	if err := s.SelectLayer(baseID); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveLayer(textID); err != nil {
		t.Fatal(err)
	}
	if len(s.Stack().Layers) != 1 {
		t.Error("Expected text layer to be removed")
	}

	s.Undo()
	s.Undo()
	if s.Stack().ActiveLayerID != textID {
		t.Error("Expected undo to restore the previous layer selection")
	}
	if got := s.Snapshot().ToolHistory; len(got) != 1 || got[0] != "text" {
		t.Errorf("Expected only the text tool in the tool log, got %v", got)
	}
}

func TestGuidedWorkflow(t *testing.T) {
	s := newSession(t, returning(t, solid(8, 8, green)))
	w := workflow.Workflow{Name: "portrait", Tools: []tools.Kind{tools.KindBackgroundRemoval, tools.KindRelight}}
	if err := s.LoadWorkflow(w); err != nil {
		t.Fatal(err)
	}
	if k, _ := s.ActiveTool(); k != tools.KindBackgroundRemoval {
		t.Fatalf("Expected first step active, got %v", k)
	}

	_ = s.Generate(context.Background(), tools.BackgroundRemovalParams{})
	if err := s.Commit(); err != nil {
		t.Fatal(err)
	}
	if k, _ := s.ActiveTool(); k != tools.KindRelight {
		t.Errorf("Expected the guide to activate the next step, got %v", k)
	}
	v := s.Snapshot()
	if v.Workflow == nil || v.Workflow.Step != 1 || v.Workflow.Next != "relight" {
		t.Errorf("Unexpected workflow view %+v", v.Workflow)
	}

	exported := s.Workflow("mine")
	if len(exported.Tools) != 1 || exported.Tools[0] != tools.KindBackgroundRemoval {
		t.Errorf("Expected exported workflow from the tool log, got %+v", exported)
	}
}

func TestListenersFireAfterUnlock(t *testing.T) {
	s := newSession(t, returning(t, solid(8, 8, green)))
	var reasons []string
	s.OnChange(func(ev Event) {
		// Reading the session from a listener must not deadlock.
		_ = s.Snapshot()
		reasons = append(reasons, ev.Reason)
	})

	_ = s.SetActiveTool(tools.KindBackgroundRemoval)
	_ = s.Generate(context.Background(), tools.BackgroundRemovalParams{})
	_ = s.Commit()

	want := []string{"tool", "generate", "candidate", "commit"}
	if len(reasons) != len(want) {
		t.Fatalf("Expected %v, got %v", want, reasons)
	}
	for i := range want {
		if reasons[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, reasons)
			break
		}
	}
}

func TestUndoAtFirstEntryKeepsCandidate(t *testing.T) {
	s := newSession(t, returning(t, solid(8, 8, green)))
	_ = s.SetActiveTool(tools.KindBackgroundRemoval)
	_ = s.StartStroke(mask.Point{X: 4, Y: 4})
	_ = s.EndStroke()
	if err := s.Generate(context.Background(), tools.BackgroundRemovalParams{}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if s.Undo() {
		t.Fatal("Expected undo at the first entry to report false")
	}
	if st, _ := s.State(); st != StateSuccess {
		t.Errorf("Expected the candidate to stay pending, got %v", st)
	}
	if s.ExportMask().AlphaAt(4, 4).A == 0 {
		t.Error("Expected the mask to survive a boundary undo")
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("Expected commit after boundary undo to succeed, got %v", err)
	}

	if s.Redo() {
		t.Fatal("Expected redo at the newest entry to report false")
	}
	if v := s.Snapshot(); v.History.Length != 2 || v.History.Cursor != 1 {
		t.Errorf("Expected history untouched by boundary redo, got %+v", v.History)
	}
}

func TestSetViewportRejectsOversize(t *testing.T) {
	s := newSession(t, returning(t, solid(8, 8, green)))

	if err := s.SetViewport(1<<20, 1<<20); !errors.Is(err, tools.ErrValidation) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if err := s.SetViewport(16, 16); err != nil {
		t.Fatalf("Expected a viewport within the limit, got %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.ClearMask() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the session to stay usable")
	}
}

func TestPanicReleasesLock(t *testing.T) {
	s := newSession(t, returning(t, solid(8, 8, green)))

	func() {
		defer func() { _ = recover() }()
		_ = s.update("boom", func() error { panic("boom") })
	}()

	done := make(chan struct{})
	go func() {
		_ = s.Snapshot()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the lock to be released after a panic")
	}
}

func TestDetectFailure(t *testing.T) {
	fb := returning(t, solid(8, 8, green))
	fb.detectErr = errors.New("detector offline")
	s := newSession(t, fb)

	if _, err := s.Detect(context.Background(), "cup"); !errors.Is(err, ErrGeneration) {
		t.Fatalf("Expected ErrGeneration, got %v", err)
	}
	st, msg := s.State()
	if st != StateFailure || msg == "" {
		t.Errorf("Expected failure state with a message, got %v %q", st, msg)
	}
	_ = s.AcknowledgeError()

	_ = s.SetActiveTool(tools.KindBackgroundRemoval)
	if err := s.Generate(context.Background(), tools.BackgroundRemovalParams{}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := s.Detect(context.Background(), "cup"); err == nil {
		t.Fatal("Expected detection error")
	}
	if st, _ := s.State(); st != StateSuccess {
		t.Errorf("Expected the pending candidate to survive, got %v", st)
	}
}
