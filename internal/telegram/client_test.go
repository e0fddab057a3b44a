package telegram

import (
	"errors"
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"

	"github.com/blockedby/tg-autoforwarder/internal/state"
)

func TestFloodWaitSeconds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, 0},
		{"plain flood wait", errors.New("FLOOD_WAIT_15"), 15},
		{"wrapped rpc error", errors.New("rpc error code 420: FLOOD_WAIT_42 (caused by updates.getChannelDifference)"), 42},
		{"unrelated error", errors.New("connection reset"), 0},
		{"missing number", errors.New("FLOOD_WAIT_"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, floodWaitSeconds(tt.err))
		})
	}
}

func TestCanonicalID(t *testing.T) {
	tests := []struct {
		name string
		raw  int64
		want int64
	}{
		{"positive id unchanged", 123456, 123456},
		{"bot-api channel id", -1001234567890, 1234567890},
		{"negated group id", -987654, 987654},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, canonicalID(tt.raw))
		})
	}
}

func TestParseMessage(t *testing.T) {
	m := &tg.Message{ID: 7, Message: "hello", Date: 1700000000}
	parsed := parseMessage(m, 55)
	assert.NotNil(t, parsed)
	assert.Equal(t, 7, parsed.ID)
	assert.Equal(t, int64(55), parsed.ChatID)
	assert.Equal(t, "hello", parsed.Text)
	assert.Zero(t, parsed.GroupedID)

	grouped := &tg.Message{ID: 8, Message: "caption", Date: 1700000001}
	grouped.SetGroupedID(999)
	parsed = parseMessage(grouped, 55)
	assert.Equal(t, int64(999), parsed.GroupedID)

	// service messages are dropped
	assert.Nil(t, parseMessage(&tg.MessageService{ID: 9}, 55))
}

func TestExtractMessages_PreservesOrder(t *testing.T) {
	raw := &tg.MessagesChannelMessages{
		Messages: []tg.MessageClass{
			&tg.Message{ID: 30, Message: "third"},
			&tg.Message{ID: 20, Message: "second"},
			&tg.MessageService{ID: 15},
			&tg.Message{ID: 10, Message: "first"},
		},
	}

	out := extractMessages(raw, 1)
	assert.Len(t, out, 3)
	assert.Equal(t, []int{30, 20, 10}, []int{out[0].ID, out[1].ID, out[2].ID})
}

func TestInputPeer(t *testing.T) {
	c := &Client{}

	peer := c.inputPeer(&Chat{ID: 1, AccessHash: 2, Kind: state.KindChannel})
	ch, ok := peer.(*tg.InputPeerChannel)
	assert.True(t, ok)
	assert.Equal(t, int64(1), ch.ChannelID)
	assert.Equal(t, int64(2), ch.AccessHash)

	peer = c.inputPeer(&Chat{ID: 3, Kind: state.KindGroup})
	gr, ok := peer.(*tg.InputPeerChat)
	assert.True(t, ok)
	assert.Equal(t, int64(3), gr.ChatID)

	peer = c.inputPeer(&Chat{ID: 4, AccessHash: 5, Kind: state.KindPrivate})
	u, ok := peer.(*tg.InputPeerUser)
	assert.True(t, ok)
	assert.Equal(t, int64(4), u.UserID)
}
