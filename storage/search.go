package storage

import (
	"strings"
	"time"

	"parley/chat"
)

// MessageMatch is one search hit within a chat.
type MessageMatch struct {
	ChatID    string
	ChatTitle string
	MessageID string
	Role      string
	Preview   string
	Timestamp time.Time
}

// SearchMessages searches the messages of a single chat. System and tool
// messages are skipped; they are plumbing, not conversation.
func SearchMessages(record *ChatRecord, query string) []MessageMatch {
	if query == "" {
		return []MessageMatch{}
	}

	queryLower := strings.ToLower(query)
	var matches []MessageMatch

	for _, msg := range record.Messages {
		if msg.Role == chat.RoleSystem || msg.Role == chat.RoleTool {
			continue
		}

		if strings.Contains(strings.ToLower(msg.Content), queryLower) {
			preview := msg.Content
			if len(preview) > 100 {
				preview = preview[:100] + "..."
			}

			matches = append(matches, MessageMatch{
				ChatID:    record.ID,
				ChatTitle: record.Title,
				MessageID: msg.ID,
				Role:      string(msg.Role),
				Preview:   preview,
				Timestamp: msg.Timestamp,
			})
		}
	}

	return matches
}

// SearchAll scans every stored chat for the query, newest chats first.
// Corrupted chat files are skipped the same way List skips them.
func (s *ChatStorage) SearchAll(query string) ([]MessageMatch, error) {
	if strings.TrimSpace(query) == "" {
		return []MessageMatch{}, nil
	}

	summaries, err := s.List()
	if err != nil {
		return nil, err
	}

	var all []MessageMatch
	for _, summary := range summaries {
		record, err := s.Load(summary.ID)
		if err != nil {
			continue
		}
		all = append(all, SearchMessages(record, query)...)
	}

	return all, nil
}
