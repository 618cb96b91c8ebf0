package chat

import (
	"strings"
	"testing"
	"time"
)

func msgAt(id string, role Role, content string, at time.Time) Message {
	return Message{ID: id, Role: role, Content: content, Timestamp: at}
}

func TestProjectFiltersToolRole(t *testing.T) {
	base := time.Now()
	msgs := []Message{
		msgAt("u1", RoleUser, "question", base),
		msgAt("t1", RoleTool, "raw tool result", base.Add(time.Second)),
		msgAt("a1", RoleAssistant, "answer", base.Add(2*time.Second)),
	}

	units := Project(msgs, View{})
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	for _, u := range units {
		if u.Message.Role == RoleTool {
			t.Error("tool-role message projected as a standalone unit")
		}
	}
	// The filtered message stays in the input untouched.
	if msgs[1].Content != "raw tool result" {
		t.Error("projection mutated the input slice")
	}
}

func TestProjectThinkingSegmentation(t *testing.T) {
	base := time.Now()
	tests := []struct {
		name      string
		msg       Message
		wantKinds []UnitKind
		wantLive  bool
	}{
		{
			name:      "reasoning only, still live",
			msg:       Message{ID: "a1", Role: RoleAssistant, Reasoning: "mulling", Timestamp: base},
			wantKinds: []UnitKind{UnitThinking},
			wantLive:  true,
		},
		{
			name:      "reasoning then content",
			msg:       Message{ID: "a1", Role: RoleAssistant, Reasoning: "mulling", Content: "done", Timestamp: base},
			wantKinds: []UnitKind{UnitThinking, UnitContent},
			wantLive:  false,
		},
		{
			name:      "content only",
			msg:       Message{ID: "a1", Role: RoleAssistant, Content: "done", Timestamp: base},
			wantKinds: []UnitKind{UnitContent},
		},
		{
			name:      "empty assistant message drops its content unit",
			msg:       Message{ID: "a1", Role: RoleAssistant, Timestamp: base},
			wantKinds: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			units := Project([]Message{tt.msg}, View{})
			if len(units) != len(tt.wantKinds) {
				t.Fatalf("got %d units, want %d", len(units), len(tt.wantKinds))
			}
			for i, kind := range tt.wantKinds {
				if units[i].Kind != kind {
					t.Errorf("unit %d kind = %s, want %s", i, units[i].Kind, kind)
				}
			}
			if len(units) > 0 && units[0].Kind == UnitThinking && units[0].Live != tt.wantLive {
				t.Errorf("thinking live = %v, want %v", units[0].Live, tt.wantLive)
			}
		})
	}
}

func TestProjectCollapseDefaults(t *testing.T) {
	long := strings.Repeat("x", 600)
	base := time.Now()
	msgs := []Message{
		msgAt("a1", RoleAssistant, long, base),
		msgAt("a2", RoleAssistant, long, base.Add(time.Second)),
	}

	units := Project(msgs, View{})
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	if !units[0].Collapsed {
		t.Error("earlier 600-char message not collapsed")
	}
	if units[1].Collapsed {
		t.Error("last renderable message collapsed; most recent always starts expanded")
	}
	if !units[1].Last {
		t.Error("last renderable flag not set")
	}
}

func TestProjectCollapseSuppressedWhileStreaming(t *testing.T) {
	long := strings.Repeat("x", 600)
	base := time.Now()
	msgs := []Message{
		msgAt("a1", RoleAssistant, long, base),
		msgAt("a2", RoleAssistant, "tail", base.Add(time.Second)),
	}

	units := Project(msgs, View{StreamingMessageID: "a1"})
	if units[0].Collapsed {
		t.Error("active stream target collapsed mid-stream")
	}
}

func TestProjectCollapseLineThreshold(t *testing.T) {
	tall := strings.Repeat("line\n", 11)
	base := time.Now()
	msgs := []Message{
		msgAt("a1", RoleAssistant, tall, base),
		msgAt("a2", RoleAssistant, "tail", base.Add(time.Second)),
	}

	units := Project(msgs, View{})
	if !units[0].Collapsed {
		t.Error("11-line message not collapsed")
	}
}

func TestProjectLastRenderableSkipsToolAndEmpty(t *testing.T) {
	base := time.Now()
	msgs := []Message{
		msgAt("u1", RoleUser, "question", base),
		msgAt("a1", RoleAssistant, "answer", base.Add(time.Second)),
		{ID: "a2", Role: RoleAssistant, Timestamp: base.Add(2 * time.Second)},
		msgAt("t1", RoleTool, "result", base.Add(3*time.Second)),
	}

	units := Project(msgs, View{})
	var lastID string
	for _, u := range units {
		if u.Last {
			lastID = u.Message.ID
		}
	}
	if lastID != "a1" {
		t.Errorf("last renderable = %q, want a1 (tool and empty assistant skipped)", lastID)
	}
}

func TestProjectToggleDefaults(t *testing.T) {
	base := time.Now()
	pending, _ := EncodeToolCall(ToolCallSnapshot{ID: "c1", Name: "fs_read", Status: ToolPendingPermission})
	done, _ := EncodeToolCall(ToolCallSnapshot{ID: "c2", Name: "fs_read", Status: ToolCompleted})
	msgs := []Message{
		msgAt("u1", RoleUser, "hi", base),
		msgAt("tc1", RoleToolCall, pending, base.Add(time.Second)),
		msgAt("tc2", RoleToolCall, done, base.Add(2*time.Second)),
	}

	units := Project(msgs, View{
		Markdown: map[string]bool{"u1": false},
	})

	if units[0].Markdown {
		t.Error("explicit markdown-off override ignored")
	}
	if !units[1].Expanded {
		t.Error("pending-permission tool call not expanded by default")
	}
	if units[2].Expanded {
		t.Error("completed tool call expanded by default")
	}

	// Markdown default is enabled when the map has no entry.
	units = Project([]Message{msgAt("u1", RoleUser, "hi", base)}, View{})
	if !units[0].Markdown {
		t.Error("markdown default should be enabled")
	}
}

func TestProjectSortsByTimestampStable(t *testing.T) {
	base := time.Now()
	msgs := []Message{
		msgAt("b", RoleUser, "second", base.Add(time.Second)),
		msgAt("a", RoleUser, "first", base),
		msgAt("c", RoleUser, "tied with b", base.Add(time.Second)),
	}

	units := Project(msgs, View{})
	got := []string{units[0].Message.ID, units[1].Message.ID, units[2].Message.ID}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v (timestamp ascending, arrival order on ties)", got, want)
		}
	}
}

func TestProjectMalformedToolCallDegrades(t *testing.T) {
	base := time.Now()
	msgs := []Message{msgAt("tc1", RoleToolCall, "not json at all", base)}

	units := Project(msgs, View{})
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	if units[0].Kind != UnitDecodeError {
		t.Errorf("kind = %s, want decode_error unit", units[0].Kind)
	}
}
