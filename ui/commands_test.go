package ui

import (
	"strings"
	"testing"
	"time"

	"parley/chat"
	"parley/config"
	"parley/storage"
)

func TestHandleSlashCommand(t *testing.T) {
	t.Run("plain text passes through", func(t *testing.T) {
		a := newTestApp(t, true)
		handled, _ := a.handleSlashCommand("hello world")
		if handled {
			t.Error("plain text should not be treated as a command")
		}
	})

	t.Run("file command stages an attachment", func(t *testing.T) {
		a := newTestApp(t, true)
		handled, _ := a.handleSlashCommand("/file /tmp/notes.txt")
		if !handled {
			t.Fatal("expected /file to be handled")
		}
		_, files, _, _ := a.composer.Staged()
		if files != 1 {
			t.Errorf("expected 1 staged file, got %d", files)
		}
		if !strings.Contains(a.notice, "notes.txt") {
			t.Errorf("notice should name the file, got %q", a.notice)
		}
	})

	t.Run("file command without path reports usage", func(t *testing.T) {
		a := newTestApp(t, true)
		handled, _ := a.handleSlashCommand("/file")
		if !handled {
			t.Fatal("expected /file to be handled")
		}
		if !strings.Contains(a.notice, "Usage") {
			t.Errorf("expected usage notice, got %q", a.notice)
		}
	})

	t.Run("prompt command stages prompt text", func(t *testing.T) {
		a := newTestApp(t, true)
		handled, _ := a.handleSlashCommand("/prompt Answer in French.")
		if !handled {
			t.Fatal("expected /prompt to be handled")
		}
		_, _, _, prompt := a.composer.Staged()
		if prompt != "Answer in French." {
			t.Errorf("staged prompt = %q", prompt)
		}
	})

	t.Run("search command reports hits across stored chats", func(t *testing.T) {
		chats, err := storage.NewChatStorage(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		if err := chats.Save(&storage.ChatRecord{
			ID:    "c1",
			Title: "Deploy help",
			Messages: []chat.Message{
				{ID: "m1", Role: chat.RoleUser, Content: "how do I deploy", Timestamp: time.Now()},
			},
		}); err != nil {
			t.Fatal(err)
		}
		a := NewApp(&config.Config{MarkdownDefault: true}, nil, chats, "chat-1")

		handled, _ := a.handleSlashCommand("/search deploy")
		if !handled {
			t.Fatal("expected /search to be handled")
		}
		if !strings.Contains(a.notice, "1 match(es)") || !strings.Contains(a.notice, "Deploy help") {
			t.Errorf("notice = %q, want hit count and chat title", a.notice)
		}
	})

	t.Run("search with no hits says so", func(t *testing.T) {
		chats, err := storage.NewChatStorage(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		a := NewApp(&config.Config{MarkdownDefault: true}, nil, chats, "chat-1")

		handled, _ := a.handleSlashCommand("/search nothing")
		if !handled {
			t.Fatal("expected /search to be handled")
		}
		if !strings.Contains(a.notice, "No matches") {
			t.Errorf("notice = %q, want no-matches report", a.notice)
		}
	})

	t.Run("unknown command reports it", func(t *testing.T) {
		a := newTestApp(t, true)
		handled, _ := a.handleSlashCommand("/zap now")
		if !handled {
			t.Fatal("expected unknown command to be handled")
		}
		if !strings.Contains(a.notice, "/zap") {
			t.Errorf("notice should name the command, got %q", a.notice)
		}
	})
}

func TestStagedSummary(t *testing.T) {
	a := newTestApp(t, true)
	if got := a.stagedSummary(); got != "" {
		t.Errorf("expected empty summary, got %q", got)
	}

	a.composer.StageMention("coder")
	a.handleSlashCommand("/file /tmp/a.txt")

	got := a.stagedSummary()
	if !strings.Contains(got, "@coder") || !strings.Contains(got, "1 file(s)") {
		t.Errorf("summary missing staged items: %q", got)
	}
}
