// Package workflow models saved tool sequences and guided replay.
//
// A workflow records which tools were used, in order. It carries no
// parameters or pixels; replaying one walks the user through the same tools
// with fresh inputs.
package workflow

import (
	"errors"
	"fmt"

	"github.com/lehigh-university-libraries/retoucher/internal/tools"
)

// ErrEmpty is returned for a workflow without steps.
var ErrEmpty = errors.New("workflow has no steps")

// Workflow is an ordered list of tool kinds.
type Workflow struct {
	Name  string       `json:"name" yaml:"name"`
	Tools []tools.Kind `json:"tools" yaml:"tools"`
}

// Validate checks that every step is a tool a user can select.
func (w Workflow) Validate() error {
	if len(w.Tools) == 0 {
		return ErrEmpty
	}
	for i, k := range w.Tools {
		if !k.Selectable() {
			return fmt.Errorf("%w: step %d uses %s", tools.ErrUnknownTool, i+1, k)
		}
	}
	return nil
}

// Names returns the tool identifiers in order.
func (w Workflow) Names() []string {
	out := make([]string, len(w.Tools))
	for i, k := range w.Tools {
		out[i] = k.String()
	}
	return out
}

// Guide steps through a workflow as tools are committed.
type Guide struct {
	workflow Workflow
	step     int
}

func NewGuide(w Workflow) *Guide {
	return &Guide{workflow: w}
}

// Next returns the tool for the current step. It reports false once the
// workflow is finished.
func (g *Guide) Next() (tools.Kind, bool) {
	if g.Done() {
		return 0, false
	}
	return g.workflow.Tools[g.step], true
}

// Advance moves past the current step when k is the tool it expects.
func (g *Guide) Advance(k tools.Kind) bool {
	next, ok := g.Next()
	if !ok || next != k {
		return false
	}
	g.step++
	return true
}

func (g *Guide) Step() int {
	return g.step
}

func (g *Guide) Done() bool {
	return g.step >= len(g.workflow.Tools)
}

func (g *Guide) Workflow() Workflow {
	return g.workflow
}
