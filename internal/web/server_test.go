package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct{}

func (f *fakeSource) TelegramStatus() string { return "READY" }
func (f *fakeSource) WatchedChats() []ChatStatus {
	return []ChatStatus{{ID: 1, Kind: "channel", Title: "news"}}
}
func (f *fakeSource) HashStoreFill() (int, int) { return 12, 1000 }
func (f *fakeSource) PendingGroups() int        { return 2 }

func TestServer_Health(t *testing.T) {
	s := NewServer(0, &fakeSource{})

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Status(t *testing.T) {
	s := NewServer(0, &fakeSource{})

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var payload statusPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "READY", payload.Telegram)
	require.Len(t, payload.Chats, 1)
	assert.Equal(t, "news", payload.Chats[0].Title)
	assert.Equal(t, 12, payload.HashFill)
	assert.Equal(t, 1000, payload.HashCapacity)
	assert.Equal(t, 2, payload.PendingGroups)
}
