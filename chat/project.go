package chat

import (
	"sort"
	"strings"
)

// Collapse policy for long messages.
const (
	collapseCharThreshold = 500
	collapseLineThreshold = 10
)

// UnitKind classifies a display unit.
type UnitKind string

const (
	UnitThinking    UnitKind = "thinking"
	UnitContent     UnitKind = "content"
	UnitToolCall    UnitKind = "tool_call"
	UnitDecodeError UnitKind = "decode_error"
)

// Unit is one renderable element of the projected message list.
type Unit struct {
	Kind     UnitKind
	Message  Message
	Metadata Metadata

	// Tool-call units only.
	Call ToolCallSnapshot

	// Thinking units: true while the owning message has produced no
	// content yet, i.e. the model is still "thinking out loud".
	Live bool

	// Per-message UI state with defaults already resolved.
	Markdown  bool
	Expanded  bool
	Copied    bool
	Collapsed bool

	// True for the last renderable message in the list.
	Last bool
}

// View carries the per-message UI toggle maps and the chat's active stream
// target. Missing map entries resolve to the documented defaults: markdown
// on, pending tool calls expanded, everything else collapsed.
type View struct {
	StreamingMessageID string
	Markdown           map[string]bool
	ToolExpanded       map[string]bool
	Copied             map[string]bool
}

// Project derives the renderable unit sequence from raw messages. It is a
// pure function: the input slice is not modified and no state is kept.
//
// Messages sort stably by timestamp ascending with arrival order breaking
// ties. RoleTool messages never project (their results travel inside the
// paired tool_call snapshot); they stay in the store untouched.
func Project(messages []Message, view View) []Unit {
	ordered := make([]Message, len(messages))
	copy(ordered, messages)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	lastID := lastRenderableID(ordered)

	var units []Unit
	for _, msg := range ordered {
		switch msg.Role {
		case RoleTool:
			continue

		case RoleToolCall:
			units = append(units, projectToolCall(msg, view))
			continue
		}

		if msg.Role == RoleAssistant && msg.Reasoning != "" {
			units = append(units, Unit{
				Kind:    UnitThinking,
				Message: msg,
				Live:    msg.Content == "",
			})
		}

		// Assistant messages with no content have nothing to show beyond
		// their thinking unit; every other role renders even when empty.
		if msg.Role == RoleAssistant && msg.Content == "" {
			continue
		}

		unit := Unit{
			Kind:     UnitContent,
			Message:  msg,
			Metadata: DecodeMetadata(msg.Metadata),
			Markdown: lookupDefault(view.Markdown, msg.ID, true),
			Copied:   lookupDefault(view.Copied, msg.ID, false),
			Last:     msg.ID == lastID,
		}
		unit.Collapsed = shouldCollapse(msg, unit.Last, view.StreamingMessageID)
		units = append(units, unit)
	}

	return units
}

func projectToolCall(msg Message, view View) Unit {
	snap, err := DecodeToolCall(msg.Content)
	if err != nil {
		// Malformed snapshots degrade to an error unit; the projector
		// never propagates a parse failure.
		return Unit{Kind: UnitDecodeError, Message: msg}
	}
	return Unit{
		Kind:     UnitToolCall,
		Message:  msg,
		Call:     snap,
		Expanded: lookupDefault(view.ToolExpanded, msg.ID, snap.Status == ToolPendingPermission),
	}
}

// lastRenderableID scans from the end, skipping tool-role messages and
// assistant messages with empty content. The first survivor is the last
// renderable message; it always starts expanded.
func lastRenderableID(ordered []Message) string {
	for i := len(ordered) - 1; i >= 0; i-- {
		msg := ordered[i]
		if msg.Role == RoleTool {
			continue
		}
		if msg.Role == RoleAssistant && msg.Content == "" {
			continue
		}
		return msg.ID
	}
	return ""
}

func shouldCollapse(msg Message, last bool, streamingID string) bool {
	if last {
		return false
	}
	if msg.ID == streamingID {
		return false
	}
	if len(msg.Content) > collapseCharThreshold {
		return true
	}
	return strings.Count(msg.Content, "\n")+1 > collapseLineThreshold
}

func lookupDefault(m map[string]bool, key string, def bool) bool {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}
