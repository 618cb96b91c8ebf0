package chat

import (
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from ToolStatus
		to   ToolStatus
		want bool
	}{
		{"pending to executing", ToolPendingPermission, ToolExecuting, true},
		{"pending to error (denial)", ToolPendingPermission, ToolError, true},
		{"pending to completed", ToolPendingPermission, ToolCompleted, true},
		{"executing to completed", ToolExecuting, ToolCompleted, true},
		{"executing to error", ToolExecuting, ToolError, true},
		{"completed back to executing", ToolCompleted, ToolExecuting, false},
		{"error back to executing", ToolError, ToolExecuting, false},
		{"completed to error", ToolCompleted, ToolError, false},
		{"error to completed", ToolError, ToolCompleted, false},
		{"executing to pending", ToolExecuting, ToolPendingPermission, false},
		{"same status refresh", ToolExecuting, ToolExecuting, true},
		{"terminal refresh", ToolCompleted, ToolCompleted, true},
		{"unknown status", ToolStatus("bogus"), ToolExecuting, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestDecodeToolCall(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantStatus ToolStatus
		wantErr    bool
	}{
		{
			name:       "current status",
			content:    `{"id":"c1","name":"read_file","status":"executing"}`,
			wantStatus: ToolExecuting,
		},
		{
			name:       "legacy calling alias",
			content:    `{"id":"c1","name":"read_file","status":"calling"}`,
			wantStatus: ToolExecuting,
		},
		{
			name:       "completed with result",
			content:    `{"id":"c2","name":"web_search","status":"completed","result":"3 hits"}`,
			wantStatus: ToolCompleted,
		},
		{
			name:    "unknown status",
			content: `{"id":"c1","name":"read_file","status":"exploded"}`,
			wantErr: true,
		},
		{
			name:    "missing id",
			content: `{"name":"read_file","status":"executing"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			content: "definitely not json",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := DecodeToolCall(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got snapshot %+v", snap)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if snap.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", snap.Status, tt.wantStatus)
			}
		})
	}
}

func TestToolCallRoundTrip(t *testing.T) {
	snap := ToolCallSnapshot{
		ID:        "call-7",
		Name:      "fs_read",
		Arguments: map[string]any{"path": "/tmp/x"},
		Status:    ToolCompleted,
		Result:    "contents",
	}
	content, err := EncodeToolCall(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeToolCall(content)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != snap.ID || got.Name != snap.Name || got.Status != snap.Status || got.Result != snap.Result {
		t.Errorf("round trip mismatch: %+v", got)
	}
}
