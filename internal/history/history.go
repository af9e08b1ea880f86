// Package history keeps the linear undo/redo log of committed layer stacks.
package history

import (
	"fmt"

	"github.com/lehigh-university-libraries/retoucher/internal/layers"
	"github.com/lehigh-university-libraries/retoucher/internal/tools"
)

// Entry is one committed state: the layer stack plus the tool that produced
// it and its parameters.
type Entry struct {
	Stack  layers.Stack
	Tool   tools.Kind
	Params tools.Params
}

// ActiveLayerID returns the active layer of the entry's stack.
func (e Entry) ActiveLayerID() string {
	return e.Stack.ActiveLayerID
}

// Summary describes an entry without its pixels.
type Summary struct {
	Tool       tools.Kind `json:"tool"`
	LayerCount int        `json:"layer_count"`
	Current    bool       `json:"current"`
}

// Manager owns the history log. Entries are stored as copies and handed out
// as copies, so a stored stack can never be changed after it is committed.
type Manager struct {
	entries []Entry
	cursor  int
}

// New creates an empty history.
func New() *Manager {
	return &Manager{cursor: -1}
}

// Commit validates stack, discards any redo entries past the cursor, appends a
// new entry and moves the cursor onto it. A stack whose active layer id does
// not exist is rejected and nothing is recorded.
func (m *Manager) Commit(stack layers.Stack, tool tools.Kind, params tools.Params) error {
	if err := stack.Validate(); err != nil {
		return fmt.Errorf("refusing to commit %s: %w", tool, err)
	}
	m.entries = append(m.entries[:m.cursor+1], Entry{
		Stack:  stack.Clone(),
		Tool:   tool,
		Params: params,
	})
	m.cursor = len(m.entries) - 1
	return nil
}

// Undo moves the cursor back one entry. It reports false at the first entry.
func (m *Manager) Undo() bool {
	if !m.CanUndo() {
		return false
	}
	m.cursor--
	return true
}

// Redo moves the cursor forward one entry. It reports false at the last entry.
func (m *Manager) Redo() bool {
	if !m.CanRedo() {
		return false
	}
	m.cursor++
	return true
}

func (m *Manager) CanUndo() bool {
	return m.cursor > 0
}

func (m *Manager) CanRedo() bool {
	return m.cursor >= 0 && m.cursor < len(m.entries)-1
}

// Current returns a copy of the entry under the cursor.
func (m *Manager) Current() (Entry, bool) {
	if m.cursor < 0 {
		return Entry{}, false
	}
	e := m.entries[m.cursor]
	e.Stack = e.Stack.Clone()
	return e, true
}

// Len returns the number of entries, including redo entries.
func (m *Manager) Len() int {
	return len(m.entries)
}

// Cursor returns the index of the current entry, -1 when empty.
func (m *Manager) Cursor() int {
	return m.cursor
}

// Summaries lists every entry in order.
func (m *Manager) Summaries() []Summary {
	out := make([]Summary, len(m.entries))
	for i, e := range m.entries {
		out[i] = Summary{Tool: e.Tool, LayerCount: len(e.Stack.Layers), Current: i == m.cursor}
	}
	return out
}

// Reset drops every entry.
func (m *Manager) Reset() {
	m.entries = nil
	m.cursor = -1
}
