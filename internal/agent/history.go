package agent

import (
	"github.com/starford/lifeagent/internal/llm"
)

// Default history bounds.
const (
	DefaultHistoryCapacity = 20
	DefaultHistoryRetain   = 16
)

// History is a bounded conversation log. Once it holds more than capacity
// messages, the oldest are dropped until retain remain. A system message is
// kept as the leading turn and counts toward both bounds.
type History struct {
	capacity int
	retain   int
	system   *llm.Message
	turns    []llm.Message
}

// NewHistory returns an empty history. Out-of-range bounds fall back to the
// defaults.
func NewHistory(capacity, retain int) *History {
	if capacity < 2 {
		capacity = DefaultHistoryCapacity
	}
	if retain < 1 || retain > capacity {
		retain = min(DefaultHistoryRetain, capacity)
	}
	return &History{capacity: capacity, retain: retain}
}

// Len returns the number of messages held, including the system turn.
func (h *History) Len() int {
	n := len(h.turns)
	if h.system != nil {
		n++
	}
	return n
}

// Append adds messages one at a time, evicting after each.
func (h *History) Append(msgs ...llm.Message) {
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			h.SetSystem(m.Content)
			continue
		}
		h.turns = append(h.turns, m)
		h.evict()
	}
}

func (h *History) evict() {
	if h.Len() <= h.capacity {
		return
	}
	keep := h.retain
	if h.system != nil {
		keep--
	}
	kept := make([]llm.Message, keep, h.capacity)
	copy(kept, h.turns[len(h.turns)-keep:])
	h.turns = kept
}

// SetSystem replaces the system turn.
func (h *History) SetSystem(content string) {
	h.system = &llm.Message{Role: llm.RoleSystem, Content: content}
	h.evict()
}

// System returns the system turn content, if any.
func (h *History) System() (string, bool) {
	if h.system == nil {
		return "", false
	}
	return h.system.Content, true
}

// Turns returns the non-system messages, oldest first.
func (h *History) Turns() []llm.Message {
	return append([]llm.Message(nil), h.turns...)
}

// Messages returns every message with the system turn first.
func (h *History) Messages() []llm.Message {
	out := make([]llm.Message, 0, h.Len())
	if h.system != nil {
		out = append(out, *h.system)
	}
	return append(out, h.turns...)
}

// Clear drops every message, the system turn included.
func (h *History) Clear() {
	h.system = nil
	h.turns = nil
}
