package storage

import (
	"strings"
	"testing"
	"time"

	"parley/chat"
)

func searchFixture() *ChatRecord {
	return &ChatRecord{
		ID:    "chat-1",
		Title: "Deploy help",
		Messages: []chat.Message{
			{ID: "m1", Role: chat.RoleUser, Content: "How do I deploy the service?", Timestamp: time.Now()},
			{ID: "m2", Role: chat.RoleAssistant, Content: "Run the deploy script.", Timestamp: time.Now()},
			{ID: "m3", Role: chat.RoleSystem, Content: "deploy system marker", Timestamp: time.Now()},
			{ID: "m4", Role: chat.RoleTool, Content: "deploy tool output", Timestamp: time.Now()},
		},
	}
}

func TestSearchMessages(t *testing.T) {
	record := searchFixture()

	t.Run("matches user and assistant only", func(t *testing.T) {
		matches := SearchMessages(record, "deploy")
		if len(matches) != 2 {
			t.Fatalf("expected 2 matches, got %d", len(matches))
		}
		for _, match := range matches {
			if match.Role == string(chat.RoleSystem) || match.Role == string(chat.RoleTool) {
				t.Errorf("system/tool message matched: %s", match.MessageID)
			}
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		if matches := SearchMessages(record, "DEPLOY"); len(matches) != 2 {
			t.Errorf("expected case-insensitive match, got %d", len(matches))
		}
	})

	t.Run("empty query matches nothing", func(t *testing.T) {
		if matches := SearchMessages(record, ""); len(matches) != 0 {
			t.Errorf("expected no matches, got %d", len(matches))
		}
	})

	t.Run("long content truncates to preview", func(t *testing.T) {
		long := &ChatRecord{ID: "c", Messages: []chat.Message{
			{ID: "m", Role: chat.RoleUser, Content: "needle " + strings.Repeat("x", 200)},
		}}
		matches := SearchMessages(long, "needle")
		if len(matches) != 1 {
			t.Fatalf("expected 1 match, got %d", len(matches))
		}
		if len(matches[0].Preview) > 103 {
			t.Errorf("preview too long: %d chars", len(matches[0].Preview))
		}
	})
}

func TestSearchAll(t *testing.T) {
	dir := t.TempDir()
	s, err := NewChatStorage(dir)
	if err != nil {
		t.Fatal(err)
	}

	record := searchFixture()
	if err := s.Save(record); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(&ChatRecord{
		ID:    "chat-2",
		Title: "Other",
		Messages: []chat.Message{
			{ID: "m1", Role: chat.RoleUser, Content: "unrelated question", Timestamp: time.Now()},
		},
	}); err != nil {
		t.Fatal(err)
	}

	matches, err := s.SearchAll("deploy")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches across chats, got %d", len(matches))
	}
	for _, match := range matches {
		if match.ChatID != "chat-1" {
			t.Errorf("match from wrong chat: %s", match.ChatID)
		}
	}

	blank, err := s.SearchAll("   ")
	if err != nil {
		t.Fatal(err)
	}
	if len(blank) != 0 {
		t.Errorf("blank query should match nothing, got %d", len(blank))
	}
}
