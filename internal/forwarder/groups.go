package forwarder

import (
	"context"
	"sync"
	"time"

	"github.com/blockedby/tg-autoforwarder/internal/logger"
	"github.com/blockedby/tg-autoforwarder/internal/telegram"
)

// DefaultSettleDelay is the wait after a group's first item before the group
// is assumed complete.
const DefaultSettleDelay = 2 * time.Second

// groupHandlerTimeout bounds one group's classify-and-forward pass.
const groupHandlerTimeout = time.Minute

// groupItem is one buffered album message with its precomputed content hash.
type groupItem struct {
	chat *telegram.Chat
	msg  telegram.Message
	hash string
}

// pendingGroup buffers album messages until the settle timer fires.
// scheduled guarantees at most one settle task per group id.
type pendingGroup struct {
	items     []groupItem
	scheduled bool
}

// GroupHandler processes a settled group's items in arrival order.
type GroupHandler func(ctx context.Context, groupID int64, items []groupItem)

// Aggregator buffers messages that belong to the same media group until a
// quiet period elapses, then hands the whole group to its handler exactly
// once. Settle tasks run concurrently with the poll loop; the shutdown
// sequence stops the timers and awaits the tasks with a bounded grace period.
type Aggregator struct {
	mu      sync.Mutex
	pending map[int64]*pendingGroup

	settle  time.Duration
	handler GroupHandler
	log     *logger.Logger

	wg       sync.WaitGroup
	quit     chan struct{}
	quitOnce sync.Once
}

// NewAggregator creates an aggregator with the given settle delay.
func NewAggregator(settle time.Duration, handler GroupHandler) *Aggregator {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Aggregator{
		pending: make(map[int64]*pendingGroup),
		settle:  settle,
		handler: handler,
		log:     logger.Get(),
		quit:    make(chan struct{}),
	}
}

// Add buffers one album message. The first item of a group starts its settle
// timer; the timer does not reset on later arrivals within the window.
func (a *Aggregator) Add(chat *telegram.Chat, msg telegram.Message, hash string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	g, ok := a.pending[msg.GroupedID]
	if !ok {
		g = &pendingGroup{}
		a.pending[msg.GroupedID] = g
	}
	g.items = append(g.items, groupItem{chat: chat, msg: msg, hash: hash})

	if !g.scheduled {
		g.scheduled = true
		a.wg.Add(1)
		go a.settleTask(msg.GroupedID)
	}
}

// PendingCount returns the number of groups still collecting, for the status
// endpoint.
func (a *Aggregator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// settleTask waits out the settle delay, removes the group from the pending
// map and hands it to the handler. On shutdown the delay is cut short: the
// poll loop has stopped, so no further items can arrive and processing now
// beats losing the group.
func (a *Aggregator) settleTask(groupID int64) {
	defer a.wg.Done()

	timer := time.NewTimer(a.settle)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-a.quit:
	}

	a.mu.Lock()
	g, ok := a.pending[groupID]
	delete(a.pending, groupID)
	a.mu.Unlock()
	if !ok || len(g.items) == 0 {
		return
	}

	// settle tasks outlive the poll cycle that spawned them, so they run on
	// their own bounded context
	ctx, cancel := context.WithTimeout(context.Background(), groupHandlerTimeout)
	defer cancel()

	a.log.Debug().Int64("group_id", groupID).Int("items", len(g.items)).Msg("forwarder: media group settled")
	a.handler(ctx, groupID, g.items)
}

// Shutdown short-circuits pending settle timers and waits for in-flight
// group processing up to the grace period. Groups still running after the
// grace are abandoned and reported.
func (a *Aggregator) Shutdown(grace time.Duration) {
	a.quitOnce.Do(func() { close(a.quit) })

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		a.log.Warn().Int("pending", a.PendingCount()).Msg("forwarder: shutdown grace elapsed, abandoning in-flight groups")
	}
}
