package session

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strings"

	"github.com/lehigh-university-libraries/retoucher/internal/layers"
	"github.com/lehigh-university-libraries/retoucher/internal/models"
	"github.com/lehigh-university-libraries/retoucher/internal/tools"
)

// request is what Generate captures under the lock before calling out.
type request struct {
	ctx      context.Context
	gen      uint64
	tool     tools.Kind
	params   tools.Params
	layerID  string
	original *image.RGBA
	mask     *image.Alpha
	body     models.GenerateRequest
}

// Generate runs the active tool. Inputs are validated before anything is
// sent. The session is LOADING until the backend answers; the answer is
// composited into a candidate only if no newer request, tool change or
// layer change happened meanwhile, otherwise ErrStaleResult is returned.
func (s *Session) Generate(ctx context.Context, params tools.Params) error {
	req, err := s.begin(ctx, params)
	if err != nil {
		return err
	}
	defer s.release(req.gen)

	if s.opts.CheckSpecificity && tools.ChecksSpecificity(req.tool) {
		if err := s.checkSpecificity(req); err != nil {
			return err
		}
	}

	slog.Info("Generating", "session_id", s.ID, "tool", req.tool, "generation", req.gen)
	result, genErr := s.backend.Generate(req.ctx, req.body)

	var img *image.RGBA
	if genErr == nil {
		var asset *layers.Asset
		asset, genErr = layers.DecodeAsset(result.Data, s.opts.MaxPixels)
		if genErr != nil {
			genErr = fmt.Errorf("malformed response: %w", genErr)
		} else {
			img = asset.Image()
		}
	}

	return s.finish(req, img, genErr)
}

func (s *Session) begin(ctx context.Context, params tools.Params) (*request, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	req, err := s.prepare(params)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.supersede()
	req.gen = s.gen
	reqCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.pending = nil
	s.state = StateLoading
	s.loadingTool = req.tool
	s.errMsg = ""
	ev := Event{SessionID: s.ID, Reason: "generate", State: s.state}
	s.mu.Unlock()

	s.emit(ev)
	req.ctx = reqCtx
	return req, nil
}

// prepare validates params against the session and builds the backend
// request. Callers hold the lock.
func (s *Session) prepare(params tools.Params) (*request, error) {
	if s.tool == 0 {
		return nil, fmt.Errorf("%w: no tool selected", tools.ErrValidation)
	}
	if params == nil || params.Kind() != s.tool {
		return nil, fmt.Errorf("%w: parameters do not match the active tool %s", tools.ErrValidation, s.tool)
	}
	if !s.tool.Generative() {
		return nil, fmt.Errorf("%w: %s does not generate images", tools.ErrValidation, s.tool)
	}
	if err := tools.Validate(params); err != nil {
		return nil, err
	}

	caps := tools.CapabilitiesOf(s.tool)
	stack := s.current()
	layer, ok := s.target(stack)
	if !ok {
		return nil, fmt.Errorf("%w: %s requires an image layer", tools.ErrValidation, s.tool)
	}
	if caps.RequiresMask && s.mask.Empty() {
		return nil, fmt.Errorf("%w: %s requires a selection", tools.ErrValidation, s.tool)
	}

	data, err := layer.Asset.PNG()
	if err != nil {
		return nil, fmt.Errorf("failed to encode layer: %w", err)
	}
	req := &request{
		tool:     s.tool,
		params:   params,
		layerID:  layer.ID,
		original: layer.Asset.Image(),
		body: models.GenerateRequest{
			Tool:      s.tool,
			Params:    params,
			Image:     data,
			Secondary: tools.SecondaryImages(params),
			Prompt:    tools.Prompt(params),
		},
	}
	if !s.mask.Empty() && (caps.RequiresMask || tools.PolicyOf(s.tool) == tools.PolicyMaskBlend) {
		req.mask = s.mask.Export()
		var buf bytes.Buffer
		if err := png.Encode(&buf, req.mask); err != nil {
			return nil, fmt.Errorf("failed to encode mask: %w", err)
		}
		req.body.Mask = buf.Bytes()
	}
	return req, nil
}

// stale reports whether req no longer matches the session. Callers hold the
// lock.
func (s *Session) stale(req *request) bool {
	if s.closed || req.gen != s.gen || s.tool != req.tool {
		return true
	}
	l, ok := s.target(s.current())
	return !ok || l.ID != req.layerID
}

// release drops the cancel func of a finished request if it is still the
// current one.
func (s *Session) release(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) finish(req *request, img *image.RGBA, genErr error) error {
	s.mu.Lock()
	if s.stale(req) {
		s.mu.Unlock()
		slog.Debug("Discarding stale result", "session_id", s.ID, "tool", req.tool, "generation", req.gen)
		return ErrStaleResult
	}

	if genErr != nil {
		s.state = StateFailure
		s.loadingTool = 0
		s.errMsg = genErr.Error()
		ev := Event{SessionID: s.ID, Reason: "failure", State: s.state}
		s.mu.Unlock()

		s.emit(ev)
		slog.Error("Generation failed", "session_id", s.ID, "tool", req.tool, "err", genErr)
		return fmt.Errorf("%w: %w", ErrGeneration, genErr)
	}

	c := &candidate{
		tool:     req.tool,
		params:   req.params,
		layerID:  req.layerID,
		policy:   tools.PolicyOf(req.tool),
		original: req.original,
		image:    img,
		mask:     req.mask,
		opacity:  tools.InitialOpacity(req.params),
	}
	s.compose(c)
	s.pending = c
	s.state = StateSuccess
	s.loadingTool = 0
	ev := Event{SessionID: s.ID, Reason: "candidate", State: s.state}
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// checkSpecificity runs the prompt pre-flight. A vague prompt ends the
// request with a suggestion; a failing check lets the request through.
func (s *Session) checkSpecificity(req *request) error {
	verdict, err := s.backend.ValidateSpecificity(req.ctx, req.body.Prompt, req.tool.String())
	if err != nil {
		slog.Warn("Specificity check failed, continuing", "session_id", s.ID, "tool", req.tool, "err", err)
		return nil
	}
	if verdict.IsSpecific {
		return nil
	}

	s.mu.Lock()
	if s.stale(req) {
		s.mu.Unlock()
		return ErrStaleResult
	}
	s.state = StateIdle
	s.loadingTool = 0
	ev := Event{SessionID: s.ID, Reason: "specificity", State: s.state}
	s.mu.Unlock()

	s.emit(ev)
	return &SpecificityError{Tool: req.tool.String(), Suggestion: verdict.Suggestion}
}

// Detect asks the backend for objects in the target layer. Zero detections
// is a valid answer. Results for a layer that is no longer active are
// dropped. A backend failure puts an idle session into FAILURE; while a
// request runs or a candidate waits it is only returned, so the candidate
// survives.
func (s *Session) Detect(ctx context.Context, query string) ([]models.DetectedObject, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	stack := s.current()
	layer, ok := s.target(stack)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: no image layer to search", tools.ErrValidation)
	}
	activeID := stack.ActiveLayerID
	s.mu.Unlock()

	data, err := layer.Asset.PNG()
	if err != nil {
		return nil, fmt.Errorf("failed to encode layer: %w", err)
	}
	found, err := s.backend.Detect(ctx, data, strings.TrimSpace(query))
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrGeneration, err)
		slog.Error("Detection failed", "session_id", s.ID, "query", query, "err", err)
		_ = s.update("failure", func() error {
			if s.current().ActiveLayerID != activeID {
				return ErrStaleResult
			}
			if s.state == StateIdle || s.state == StateFailure {
				s.state = StateFailure
				s.errMsg = err.Error()
			}
			return nil
		})
		return nil, err
	}

	valid := make([]models.DetectedObject, 0, len(found))
	for _, d := range found {
		if d.Box.Valid() {
			valid = append(valid, d)
		}
	}

	err = s.update("detect", func() error {
		if s.current().ActiveLayerID != activeID {
			return ErrStaleResult
		}
		s.detections = valid
		return nil
	})
	if err != nil {
		return nil, err
	}
	return valid, nil
}

// EnhancePrompt refines prompt text. The input is never modified; while the
// call runs the session reports enhancing. Any backend failure returns the
// original text.
func (s *Session) EnhancePrompt(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	var tool tools.Kind
	err := s.update("enhance", func() error {
		s.enhancing++
		tool = s.tool
		return nil
	})
	if err != nil {
		return text, err
	}
	defer func() {
		_ = s.update("enhanced", func() error {
			s.enhancing--
			return nil
		})
	}()

	out, err := s.backend.EnhancePrompt(ctx, text, tool)
	if err != nil || strings.TrimSpace(out) == "" {
		slog.Warn("Prompt enhancement failed, keeping original", "session_id", s.ID, "err", err)
		return text, nil
	}
	return out, nil
}
