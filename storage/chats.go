package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"parley/chat"
)

// ChatRecord is the on-disk form of a chat thread.
type ChatRecord struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Messages    []chat.Message `json:"messages"`
}

// ChatSummary is a lightweight version of ChatRecord for listing
type ChatSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	WorkspaceID  string    `json:"workspace_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// ChatStorage handles chat-thread persistence
type ChatStorage struct {
	chatsDir string
}

// NewChatStorage creates a new chat storage
func NewChatStorage(dataDir string) (*ChatStorage, error) {
	chatsDir := filepath.Join(dataDir, "chats")

	// Create chats directory if it doesn't exist (0700 - user-only access)
	if err := os.MkdirAll(chatsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create chats directory: %w", err)
	}

	return &ChatStorage{
		chatsDir: chatsDir,
	}, nil
}

// Save saves a chat to disk
func (s *ChatStorage) Save(record *ChatRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	record.UpdatedAt = time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.UpdatedAt
	}

	path := filepath.Join(s.chatsDir, record.ID+".json")

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal chat: %w", err)
	}

	// 0600 - chat files contain conversation history
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write chat file: %w", err)
	}

	return nil
}

// Load loads a chat from disk
func (s *ChatStorage) Load(id string) (*ChatRecord, error) {
	path := filepath.Join(s.chatsDir, id+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat file: %w", err)
	}

	var record ChatRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat: %w", err)
	}

	return &record, nil
}

// List returns summaries for all chats, sorted by update time (newest first)
func (s *ChatStorage) List() ([]ChatSummary, error) {
	entries, err := os.ReadDir(s.chatsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read chats directory: %w", err)
	}

	var chats []ChatSummary

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(s.chatsDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue // Skip corrupted files
		}

		var record ChatRecord
		if err := json.Unmarshal(data, &record); err != nil {
			continue // Skip corrupted files
		}

		chats = append(chats, ChatSummary{
			ID:           record.ID,
			Title:        record.Title,
			WorkspaceID:  record.WorkspaceID,
			CreatedAt:    record.CreatedAt,
			UpdatedAt:    record.UpdatedAt,
			MessageCount: len(record.Messages),
		})
	}

	// Sort by UpdatedAt (newest first)
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})

	return chats, nil
}

// Delete deletes a chat from disk
func (s *ChatStorage) Delete(id string) error {
	path := filepath.Join(s.chatsDir, id+".json")

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete chat file: %w", err)
	}

	return nil
}

// Rename updates the title of a chat
func (s *ChatStorage) Rename(id string, newTitle string) error {
	record, err := s.Load(id)
	if err != nil {
		return fmt.Errorf("failed to load chat: %w", err)
	}

	record.Title = newTitle

	if err := s.Save(record); err != nil {
		return fmt.Errorf("failed to save renamed chat: %w", err)
	}

	return nil
}

// SaveCurrentChatID saves the ID of the current chat
func (s *ChatStorage) SaveCurrentChatID(id string) error {
	path := filepath.Join(filepath.Dir(s.chatsDir), "current_chat.id")
	return os.WriteFile(path, []byte(id), 0600)
}

// LoadCurrentChatID loads the ID of the last active chat
func (s *ChatStorage) LoadCurrentChatID() (string, error) {
	path := filepath.Join(filepath.Dir(s.chatsDir), "current_chat.id")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// GenerateChatTitle generates a chat title from the first user message
func GenerateChatTitle(firstMessage string) string {
	if firstMessage == "" {
		return fmt.Sprintf("Chat %s", time.Now().Format("Jan 2, 3:04 PM"))
	}

	// Take first 30 characters
	title := firstMessage
	if len(title) > 30 {
		title = title[:30] + "..."
	}

	// Remove newlines
	title = strings.ReplaceAll(title, "\n", " ")
	title = strings.ReplaceAll(title, "\r", " ")

	// Trim spaces
	title = strings.TrimSpace(title)

	if title == "" {
		return fmt.Sprintf("Chat %s", time.Now().Format("Jan 2, 3:04 PM"))
	}

	return title
}

// ExportToJSON exports a chat to a JSON file at the specified path
func (s *ChatStorage) ExportToJSON(id string, exportPath string) error {
	record, err := s.Load(id)
	if err != nil {
		return fmt.Errorf("failed to load chat: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal chat: %w", err)
	}

	// Ensure directory exists (0700 - user-only access)
	dir := filepath.Dir(exportPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// 0600 - chat exports contain conversation history
	if err := os.WriteFile(exportPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// LockInstance creates a global lock to ensure single-instance operation
// Lock file: <data_dir>/parley.lock, content: PID of the running instance
func (s *ChatStorage) LockInstance() error {
	dataDir := filepath.Dir(s.chatsDir)
	lockPath := filepath.Join(dataDir, "parley.lock")
	pid := os.Getpid()

	// Write PID to lock file (0600 - user-only access)
	return os.WriteFile(lockPath, []byte(fmt.Sprintf("%d", pid)), 0600)
}

// UnlockInstance removes the global instance lock
func (s *ChatStorage) UnlockInstance() error {
	dataDir := filepath.Dir(s.chatsDir)
	lockPath := filepath.Join(dataDir, "parley.lock")

	// Ignore error if file doesn't exist
	err := os.Remove(lockPath)
	if os.IsNotExist(err) {
		return nil
	}

	return err
}

// CheckInstanceLock checks if another instance is currently running.
// Returns (isLocked bool, runningPID int, err error).
func (s *ChatStorage) CheckInstanceLock() (bool, int, error) {
	dataDir := filepath.Dir(s.chatsDir)
	lockPath := filepath.Join(dataDir, "parley.lock")

	data, err := os.ReadFile(lockPath)
	if os.IsNotExist(err) {
		return false, 0, nil // No lock file, not locked
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to read lock file: %w", err)
	}

	// Parse PID from lock file
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		// Invalid lock file, clean it up
		_ = os.Remove(lockPath)
		return false, 0, nil
	}

	// Check if process with this PID is still running.
	// os.FindProcess always succeeds on Unix; on Windows a missing process
	// errors, so we treat an error as a stale lock.
	_, err = os.FindProcess(pid)
	if err != nil {
		_ = os.Remove(lockPath)
		return false, 0, nil
	}

	return true, pid, nil
}
