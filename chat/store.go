package chat

// StreamingError describes a failed stream for one chat.
type StreamingError struct {
	MessageID string
	Message   string
	CanRetry  bool
}

// StreamingSession tracks the one active stream target for a chat.
type StreamingSession struct {
	StreamingMessageID string
	Paused             bool
	Err                *StreamingError
}

// Active reports whether the session currently targets a message.
func (s *StreamingSession) Active() bool {
	return s != nil && s.StreamingMessageID != ""
}

// Store owns every chat thread's message collection plus the per-chat
// streaming sessions. All mutation happens on the UI event loop, so the
// store carries no locks; it must not be shared across goroutines.
type Store struct {
	chats    map[string][]Message
	sessions map[string]*StreamingSession
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		chats:    make(map[string][]Message),
		sessions: make(map[string]*StreamingSession),
	}
}

// Messages returns the message slice for a chat in insertion order. The
// returned slice is the store's own; callers that need to keep it across
// mutations must copy.
func (s *Store) Messages(chatID string) []Message {
	return s.chats[chatID]
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(chatID, id string) (Message, bool) {
	for _, m := range s.chats[chatID] {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Append adds a message to the end of a chat's collection. An id collision
// is a no-op: ids are unique within a chat.
func (s *Store) Append(chatID string, msg Message) bool {
	for _, m := range s.chats[chatID] {
		if m.ID == msg.ID {
			return false
		}
	}
	s.chats[chatID] = append(s.chats[chatID], msg)
	return true
}

// Update replaces the stored message with the same id in place.
func (s *Store) Update(chatID string, msg Message) bool {
	msgs := s.chats[chatID]
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			msgs[i] = msg
			return true
		}
	}
	return false
}

// Mutate applies fn to the stored message with the given id, in place.
func (s *Store) Mutate(chatID, id string, fn func(*Message)) bool {
	msgs := s.chats[chatID]
	for i := range msgs {
		if msgs[i].ID == id {
			fn(&msgs[i])
			return true
		}
	}
	return false
}

// Remove deletes a message by id. Removing the message an active streaming
// session targets also clears that session's target.
func (s *Store) Remove(chatID, id string) bool {
	msgs := s.chats[chatID]
	for i := range msgs {
		if msgs[i].ID == id {
			s.chats[chatID] = append(msgs[:i], msgs[i+1:]...)
			if sess := s.sessions[chatID]; sess != nil && sess.StreamingMessageID == id {
				sess.StreamingMessageID = ""
			}
			return true
		}
	}
	return false
}

// Clear drops all messages for a chat and its streaming session.
func (s *Store) Clear(chatID string) {
	delete(s.chats, chatID)
	delete(s.sessions, chatID)
}

// Session returns the streaming session for a chat, or nil.
func (s *Store) Session(chatID string) *StreamingSession {
	return s.sessions[chatID]
}

func (s *Store) session(chatID string) *StreamingSession {
	sess := s.sessions[chatID]
	if sess == nil {
		sess = &StreamingSession{}
		s.sessions[chatID] = sess
	}
	return sess
}

// SetStreamTarget marks a message as the chat's active stream target. The
// latest target always wins; there is never more than one per chat.
func (s *Store) SetStreamTarget(chatID, messageID string) {
	sess := s.session(chatID)
	sess.StreamingMessageID = messageID
	sess.Err = nil
}

// ClearStreamTarget marks the chat's stream inactive.
func (s *Store) ClearStreamTarget(chatID string) {
	if sess := s.sessions[chatID]; sess != nil {
		sess.StreamingMessageID = ""
	}
}

// SetStreamError records a chat-scoped streaming failure. Partial content
// already applied stays untouched.
func (s *Store) SetStreamError(chatID string, serr StreamingError) {
	sess := s.session(chatID)
	sess.Err = &serr
	sess.StreamingMessageID = ""
}

// SetPaused flips the chat's paused-streaming flag.
func (s *Store) SetPaused(chatID string, paused bool) {
	s.session(chatID).Paused = paused
}
