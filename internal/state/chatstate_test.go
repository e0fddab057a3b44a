package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatStates_InitializeAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chats.json")
	s := NewChatStates(path)

	s.Initialize(100, ChatState{Kind: KindChannel, Pts: 42})

	kind, ok := s.Kind(100)
	require.True(t, ok)
	assert.Equal(t, KindChannel, kind)

	pts, ok := s.Pts(100)
	require.True(t, ok)
	assert.Equal(t, 42, pts)

	_, ok = s.Kind(999)
	assert.False(t, ok, "unknown chat should be absent")
}

func TestChatStates_CursorUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chats.json")
	s := NewChatStates(path)

	s.Initialize(1, ChatState{Kind: KindChannel, Pts: 100})
	s.SetPts(1, 105)
	pts, _ := s.Pts(1)
	assert.Equal(t, 105, pts)

	s.Initialize(2, ChatState{Kind: KindGroup, LastMessageID: 7})
	s.SetLastMessageID(2, 31)
	id, _ := s.LastMessageID(2)
	assert.Equal(t, 31, id)
}

func TestChatStates_PersistsWithStringKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chats.json")
	s := NewChatStates(path)
	s.Initialize(-1001234, ChatState{Kind: KindChannel, Pts: 9})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var onDisk map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	require.Contains(t, onDisk, "-1001234")
	assert.Equal(t, "channel", onDisk["-1001234"]["type"])

	reloaded := NewChatStates(path)
	pts, ok := reloaded.Pts(-1001234)
	require.True(t, ok)
	assert.Equal(t, 9, pts)
}

func TestChatStates_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chats.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0644))

	s := NewChatStates(path)
	assert.Equal(t, 0, s.Len())
}

func TestChatStates_SkipsNonNumericKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chats.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"abc":{"type":"group"},"5":{"type":"private","last_message_id":3}}`), 0644))

	s := NewChatStates(path)
	assert.Equal(t, 1, s.Len())

	kind, ok := s.Kind(5)
	require.True(t, ok)
	assert.Equal(t, KindPrivate, kind)
}

func TestChatStates_SetOnUnknownChatCreatesEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chats.json")
	s := NewChatStates(path)

	s.SetPts(77, 500)
	pts, ok := s.Pts(77)
	require.True(t, ok)
	assert.Equal(t, 500, pts)
}
