package state

import (
	"encoding/json"
	"os"
	"strconv"
	"sync"

	"github.com/blockedby/tg-autoforwarder/internal/logger"
)

// ChatKind selects the cursor strategy for a source chat.
type ChatKind string

// Chat kinds. Channels resume from a pts update counter, groups and private
// chats resume from the highest message id already fetched.
const (
	KindChannel ChatKind = "channel"
	KindGroup   ChatKind = "group"
	KindPrivate ChatKind = "private"
)

// ChatState is the durable cursor record for one source chat.
// Exactly one of Pts or LastMessageID is meaningful, matching Kind.
type ChatState struct {
	Kind          ChatKind `json:"type"`
	Pts           int      `json:"pts,omitempty"`
	LastMessageID int      `json:"last_message_id,omitempty"`
}

// ChatStates holds cursor state for every source chat and persists the whole
// map after every mutation. Chat ids are int64 in memory and string keys on
// disk (JSON object keys are strings).
type ChatStates struct {
	mu     sync.Mutex
	states map[int64]*ChatState
	path   string
	log    *logger.Logger
}

// NewChatStates loads chat states from path. A missing, unreadable or
// corrupt file starts an empty map: every chat then re-initializes and
// re-anchors at its current position, losing any unprocessed backlog.
func NewChatStates(path string) *ChatStates {
	s := &ChatStates{
		states: make(map[int64]*ChatState),
		path:   path,
		log:    logger.Get(),
	}
	s.load()
	return s
}

func (s *ChatStates) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error().Err(err).Str("path", s.path).Msg("state: failed to read chat states, starting empty")
		}
		return
	}

	var serialized map[string]*ChatState
	if err := json.Unmarshal(data, &serialized); err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("state: corrupt chat state file, starting empty")
		return
	}

	for key, st := range serialized {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			s.log.Warn().Str("key", key).Msg("state: skipping chat state with non-numeric id")
			continue
		}
		s.states[id] = st
	}
	s.log.Info().Int("chats", len(s.states)).Str("path", s.path).Msg("state: loaded chat states")
}

// Initialize records a freshly resolved chat with its starting cursor and
// persists. Calling it again for a known chat overwrites the record; callers
// are expected to check Kind first.
func (s *ChatStates) Initialize(chatID int64, st ChatState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := st
	s.states[chatID] = &copied
	s.saveLocked()
	s.log.Info().Int64("chat_id", chatID).Str("kind", string(st.Kind)).Msg("state: initialized chat")
}

// Kind returns the stored kind for a chat, or false when the chat is unknown.
func (s *ChatStates) Kind(chatID int64) (ChatKind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[chatID]
	if !ok {
		return "", false
	}
	return st.Kind, true
}

// Pts returns the channel update cursor for a chat.
func (s *ChatStates) Pts(chatID int64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[chatID]
	if !ok {
		return 0, false
	}
	return st.Pts, true
}

// SetPts updates the channel cursor and persists. The entry is created if
// absent, keeping the update path usable after a lost state file.
func (s *ChatStates) SetPts(chatID int64, pts int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[chatID]
	if !ok {
		st = &ChatState{Kind: KindChannel}
		s.states[chatID] = st
	}
	st.Pts = pts
	s.saveLocked()
}

// LastMessageID returns the highest already-fetched message id for a
// group or private chat.
func (s *ChatStates) LastMessageID(chatID int64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[chatID]
	if !ok {
		return 0, false
	}
	return st.LastMessageID, true
}

// SetLastMessageID updates the history cursor and persists.
func (s *ChatStates) SetLastMessageID(chatID int64, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[chatID]
	if !ok {
		st = &ChatState{Kind: KindGroup}
		s.states[chatID] = st
	}
	st.LastMessageID = id
	s.saveLocked()
}

// Len returns the number of tracked chats.
func (s *ChatStates) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Flush persists the map, used by the shutdown sequence.
func (s *ChatStates) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveLocked()
}

func (s *ChatStates) saveLocked() {
	serialized := make(map[string]*ChatState, len(s.states))
	for id, st := range s.states {
		serialized[strconv.FormatInt(id, 10)] = st
	}

	data, err := json.Marshal(serialized)
	if err != nil {
		s.log.Error().Err(err).Msg("state: failed to marshal chat states")
		return
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("state: failed to save chat states")
	}
}
