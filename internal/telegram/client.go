// Package telegram provides the MTProto client wrapper used by the
// forwarding pipeline: chat resolution, incremental fetching and forwarding.
package telegram

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/celestix/gotgproto"
	"github.com/gotd/td/tg"

	"github.com/blockedby/tg-autoforwarder/internal/logger"
	"github.com/blockedby/tg-autoforwarder/internal/state"
)

// Client wraps the gotgproto client behind the Manager and exposes the
// high-level operations the poller needs.
type Client struct {
	manager     *Manager
	rateLimiter *RateLimiter
	log         *logger.Logger
}

// NewClient creates a new telegram client wrapper using the Manager.
func NewClient(manager *Manager, limiter *RateLimiter) *Client {
	if limiter == nil {
		limiter = DefaultRateLimiter()
	}
	return &Client{
		manager:     manager,
		rateLimiter: limiter,
		log:         logger.Get(),
	}
}

// Close stops the client via the manager.
func (c *Client) Close() {
	if c.manager != nil {
		c.manager.Stop()
	}
}

// getProto returns the current protocol client if available.
func (c *Client) getProto() (*gotgproto.Client, error) {
	proto := c.manager.GetClient()
	if proto == nil {
		return nil, fmt.Errorf("telegram client not authorized")
	}
	return proto, nil
}

// API returns the raw tg.Client for direct API calls.
func (c *Client) API() (*tg.Client, error) {
	proto, err := c.getProto()
	if err != nil {
		return nil, err
	}
	return proto.API(), nil
}

// ResolveChat resolves a configured identifier to a chat. Identifiers are
// either usernames (with or without @) or numeric chat ids; numeric ids are
// looked up in the account's dialog list.
func (c *Client) ResolveChat(ctx context.Context, identifier string) (*Chat, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(identifier), "@")

	if id, err := strconv.ParseInt(trimmed, 10, 64); err == nil && !strings.HasPrefix(identifier, "@") {
		chat, err := c.resolveByID(ctx, id)
		if err != nil {
			return nil, err
		}
		chat.Identifier = identifier
		return chat, nil
	}

	chat, err := c.resolveUsername(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	chat.Identifier = identifier
	return chat, nil
}

func (c *Client) resolveUsername(ctx context.Context, username string) (*Chat, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	c.log.Info().Str("username", username).Msg("telegram: resolving username")
	api, err := c.API()
	if err != nil {
		return nil, err
	}
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("resolve username %s: %w", username, err)
	}

	for _, raw := range resolved.Chats {
		switch ch := raw.(type) {
		case *tg.Channel:
			return &Chat{ID: ch.ID, AccessHash: ch.AccessHash, Kind: state.KindChannel, Title: ch.Title}, nil
		case *tg.Chat:
			return &Chat{ID: ch.ID, Kind: state.KindGroup, Title: ch.Title}, nil
		}
	}
	for _, raw := range resolved.Users {
		if u, ok := raw.(*tg.User); ok {
			return &Chat{ID: u.ID, AccessHash: u.AccessHash, Kind: state.KindPrivate, Title: userTitle(u)}, nil
		}
	}
	return nil, fmt.Errorf("chat not found: %s", username)
}

// resolveByID scans the dialog list for a matching peer. Configured ids may
// use the bot-api convention (-100 prefix for channels, negative for basic
// groups); canonicalID normalizes before matching.
func (c *Client) resolveByID(ctx context.Context, rawID int64) (*Chat, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	id := canonicalID(rawID)
	c.log.Info().Int64("chat_id", id).Msg("telegram: resolving chat id via dialogs")

	api, err := c.API()
	if err != nil {
		return nil, err
	}
	dialogs, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      100,
	})
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("get dialogs: %w", err)
	}

	chats, users := dialogPeers(dialogs)
	for _, raw := range chats {
		switch ch := raw.(type) {
		case *tg.Channel:
			if ch.ID == id {
				return &Chat{ID: ch.ID, AccessHash: ch.AccessHash, Kind: state.KindChannel, Title: ch.Title}, nil
			}
		case *tg.Chat:
			if ch.ID == id {
				return &Chat{ID: ch.ID, Kind: state.KindGroup, Title: ch.Title}, nil
			}
		}
	}
	for _, raw := range users {
		if u, ok := raw.(*tg.User); ok && u.ID == id {
			return &Chat{ID: u.ID, AccessHash: u.AccessHash, Kind: state.KindPrivate, Title: userTitle(u)}, nil
		}
	}
	return nil, fmt.Errorf("chat id %d not found in dialogs", rawID)
}

// InitialPts fetches the current update counter for a channel, the starting
// cursor recorded when a channel is first initialized.
func (c *Client) InitialPts(ctx context.Context, chat *Chat) (int, error) {
	if chat.Kind != state.KindChannel {
		return 0, fmt.Errorf("chat %d is not a channel", chat.ID)
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return 0, err
	}

	api, err := c.API()
	if err != nil {
		return 0, err
	}
	full, err := api.ChannelsGetFullChannel(ctx, &tg.InputChannel{
		ChannelID:  chat.ID,
		AccessHash: chat.AccessHash,
	})
	if err != nil {
		c.noteFloodWait(err)
		return 0, fmt.Errorf("get full channel: %w", err)
	}

	chFull, ok := full.FullChat.(*tg.ChannelFull)
	if !ok {
		return 0, fmt.Errorf("unexpected full chat type %T", full.FullChat)
	}
	return chFull.Pts, nil
}

// LatestMessageID returns the id of the newest message in a group or private
// chat, the starting cursor for history-based fetching. Returns zero for an
// empty history.
func (c *Client) LatestMessageID(ctx context.Context, chat *Chat) (int, error) {
	messages, err := c.history(ctx, chat, &tg.MessagesGetHistoryRequest{
		Peer:  c.inputPeer(chat),
		Limit: 1,
	})
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}
	return messages[0].ID, nil
}

// ChannelDifference fetches the incremental update batch for a channel
// anchored at pts. The returned pts must be persisted only after the batch
// has been processed.
func (c *Client) ChannelDifference(ctx context.Context, chat *Chat, pts int, limit int) (*Difference, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	api, err := c.API()
	if err != nil {
		return nil, err
	}
	raw, err := api.UpdatesGetChannelDifference(ctx, &tg.UpdatesGetChannelDifferenceRequest{
		Channel: &tg.InputChannel{
			ChannelID:  chat.ID,
			AccessHash: chat.AccessHash,
		},
		Filter: &tg.ChannelMessagesFilterEmpty{},
		Pts:    pts,
		Limit:  limit,
		Force:  true,
	})
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("get channel difference: %w", err)
	}

	switch diff := raw.(type) {
	case *tg.UpdatesChannelDifferenceEmpty:
		return &Difference{Pts: diff.Pts}, nil
	case *tg.UpdatesChannelDifference:
		out := &Difference{Pts: diff.Pts}
		for _, m := range diff.NewMessages {
			if msg := parseMessage(m, chat.ID); msg != nil {
				out.Messages = append(out.Messages, *msg)
			}
		}
		return out, nil
	case *tg.UpdatesChannelDifferenceTooLong:
		// gap too large to replay: re-anchor at the live position, the
		// skipped backlog is not recoverable through this call
		c.log.Warn().Int64("chat_id", chat.ID).Msg("telegram: channel difference too long, re-anchoring")
		current, err := c.InitialPts(ctx, chat)
		if err != nil {
			return nil, err
		}
		return &Difference{Pts: current}, nil
	default:
		return nil, fmt.Errorf("unexpected difference type %T", raw)
	}
}

// MessagesSince fetches messages with id greater than minID, oldest first.
func (c *Client) MessagesSince(ctx context.Context, chat *Chat, minID int, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	messages, err := c.history(ctx, chat, &tg.MessagesGetHistoryRequest{
		Peer:  c.inputPeer(chat),
		MinID: minID,
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}

	// history arrives newest first, the pipeline wants delivery order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Forward forwards a single message from src to dest, keeping the original
// attribution.
func (c *Client) Forward(ctx context.Context, dest *Chat, src *Chat, messageID int) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	api, err := c.API()
	if err != nil {
		return err
	}
	_, err = api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer: c.inputPeer(src),
		ID:       []int{messageID},
		RandomID: []int64{rand.Int63()},
		ToPeer:   c.inputPeer(dest),
	})
	if err != nil {
		c.noteFloodWait(err)
		return fmt.Errorf("forward message %d: %w", messageID, err)
	}
	return nil
}

func (c *Client) history(ctx context.Context, chat *Chat, req *tg.MessagesGetHistoryRequest) ([]Message, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	api, err := c.API()
	if err != nil {
		return nil, err
	}
	raw, err := api.MessagesGetHistory(ctx, req)
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("get history: %w", err)
	}
	return extractMessages(raw, chat.ID), nil
}

// inputPeer builds the request peer for a chat based on its kind.
func (c *Client) inputPeer(chat *Chat) tg.InputPeerClass {
	switch chat.Kind {
	case state.KindChannel:
		return &tg.InputPeerChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash}
	case state.KindGroup:
		return &tg.InputPeerChat{ChatID: chat.ID}
	default:
		return &tg.InputPeerUser{UserID: chat.ID, AccessHash: chat.AccessHash}
	}
}

// noteFloodWait inspects an RPC error and, if it is a FLOOD_WAIT, pushes the
// mandated pause into the rate limiter so the next call waits it out.
func (c *Client) noteFloodWait(err error) {
	if wait := floodWaitSeconds(err); wait > 0 {
		c.log.Warn().Int("wait_seconds", wait).Msg("telegram: FLOOD_WAIT received, backing off")
		c.rateLimiter.SetFloodWait(wait)
	}
}

// floodWaitSeconds extracts the wait duration from a FLOOD_WAIT error,
// returning zero for any other error. Matching on the error string avoids
// coupling to the gotd error types across wrapper layers.
func floodWaitSeconds(err error) int {
	if err == nil {
		return 0
	}
	str := err.Error()
	idx := strings.Index(str, "FLOOD_WAIT_")
	if idx < 0 {
		return 0
	}
	var seconds int
	_, _ = fmt.Sscanf(str[idx+len("FLOOD_WAIT_"):], "%d", &seconds)
	return seconds
}

// extractMessages converts a telegram history response to our Message type,
// keeping the order the server returned.
func extractMessages(raw tg.MessagesMessagesClass, chatID int64) []Message {
	var out []Message
	collect := func(list []tg.MessageClass) {
		for _, m := range list {
			if msg := parseMessage(m, chatID); msg != nil {
				out = append(out, *msg)
			}
		}
	}

	switch h := raw.(type) {
	case *tg.MessagesChannelMessages:
		collect(h.Messages)
	case *tg.MessagesMessages:
		collect(h.Messages)
	case *tg.MessagesMessagesSlice:
		collect(h.Messages)
	}
	return out
}

// parseMessage converts a single telegram message, dropping service messages.
func parseMessage(raw tg.MessageClass, chatID int64) *Message {
	m, ok := raw.(*tg.Message)
	if !ok {
		return nil
	}

	grouped, _ := m.GetGroupedID()
	return &Message{
		ID:        m.ID,
		ChatID:    chatID,
		Text:      m.Message,
		GroupedID: grouped,
		Date:      time.Unix(int64(m.Date), 0),
	}
}

// dialogPeers flattens the chats and users out of a dialogs response.
func dialogPeers(raw tg.MessagesDialogsClass) ([]tg.ChatClass, []tg.UserClass) {
	switch d := raw.(type) {
	case *tg.MessagesDialogs:
		return d.Chats, d.Users
	case *tg.MessagesDialogsSlice:
		return d.Chats, d.Users
	}
	return nil, nil
}

// canonicalID strips bot-api style chat id markers: channels are serialized
// as -100<id>, basic groups as the negated id.
func canonicalID(raw int64) int64 {
	if raw < -1000000000000 {
		return -raw - 1000000000000
	}
	if raw < 0 {
		return -raw
	}
	return raw
}

func userTitle(u *tg.User) string {
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
