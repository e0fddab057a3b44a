package forwarder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-autoforwarder/internal/telegram"
)

// recordingHandler captures settled groups.
type recordingHandler struct {
	mu     sync.Mutex
	groups map[int64][][]groupItem
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{groups: make(map[int64][][]groupItem)}
}

func (h *recordingHandler) handle(_ context.Context, groupID int64, items []groupItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.groups[groupID] = append(h.groups[groupID], items)
}

func (h *recordingHandler) deliveries(groupID int64) [][]groupItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.groups[groupID]
}

func albumMsg(id int, groupID int64, text string) telegram.Message {
	return telegram.Message{ID: id, ChatID: 100, Text: text, GroupedID: groupID}
}

func TestAggregator_SettlesOnceWithAllItems(t *testing.T) {
	h := newRecordingHandler()
	a := NewAggregator(50*time.Millisecond, h.handle)
	chat := srcChat()

	a.Add(chat, albumMsg(1, 7, "one"), "h1")
	a.Add(chat, albumMsg(2, 7, "two"), "h2")
	a.Add(chat, albumMsg(3, 7, "three"), "h3")

	require.Eventually(t, func() bool {
		return len(h.deliveries(7)) == 1
	}, time.Second, 10*time.Millisecond, "group should settle exactly once")

	items := h.deliveries(7)[0]
	require.Len(t, items, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{items[0].msg.ID, items[1].msg.ID, items[2].msg.ID}, "arrival order preserved")
	assert.Equal(t, 0, a.PendingCount())
}

func TestAggregator_TimerDoesNotReset(t *testing.T) {
	h := newRecordingHandler()
	a := NewAggregator(80*time.Millisecond, h.handle)
	chat := srcChat()

	start := time.Now()
	a.Add(chat, albumMsg(1, 5, "a"), "h1")
	time.Sleep(40 * time.Millisecond)
	a.Add(chat, albumMsg(2, 5, "b"), "h2")

	require.Eventually(t, func() bool {
		return len(h.deliveries(5)) == 1
	}, time.Second, 10*time.Millisecond)

	// a resetting timer would fire at ~120ms, a fixed one at ~80ms
	assert.Less(t, time.Since(start), 120*time.Millisecond, "later arrivals must not extend the settle window")
	assert.Len(t, h.deliveries(5)[0], 2)
}

func TestAggregator_IndependentGroups(t *testing.T) {
	h := newRecordingHandler()
	a := NewAggregator(30*time.Millisecond, h.handle)
	chat := srcChat()

	a.Add(chat, albumMsg(1, 1, "g1"), "h1")
	a.Add(chat, albumMsg(2, 2, "g2"), "h2")

	require.Eventually(t, func() bool {
		return len(h.deliveries(1)) == 1 && len(h.deliveries(2)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestAggregator_ShutdownShortCircuitsSettle(t *testing.T) {
	h := newRecordingHandler()
	a := NewAggregator(time.Hour, h.handle)
	a.Add(srcChat(), albumMsg(1, 3, "slow"), "h1")

	done := make(chan struct{})
	go func() {
		a.Shutdown(5 * time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	require.Len(t, h.deliveries(3), 1, "pending group processed on shutdown instead of being lost")
}

func TestAggregator_ShutdownGraceExpires(t *testing.T) {
	block := make(chan struct{})
	a := NewAggregator(10*time.Millisecond, func(_ context.Context, _ int64, _ []groupItem) {
		<-block
	})
	a.Add(srcChat(), albumMsg(1, 4, "stuck"), "h1")

	start := time.Now()
	a.Shutdown(100 * time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	close(block)
}
