package forwarder

import (
	"context"
	"fmt"
	"time"

	"github.com/blockedby/tg-autoforwarder/internal/logger"
	"github.com/blockedby/tg-autoforwarder/internal/state"
	"github.com/blockedby/tg-autoforwarder/internal/telegram"
)

// fetchStrategy is the per-kind cursor behavior: channels replay incremental
// updates from a pts counter, groups and private chats page history past the
// last seen message id.
type fetchStrategy interface {
	initCursor(ctx context.Context, chat *telegram.Chat) error
	poll(ctx context.Context, chat *telegram.Chat) error
}

// Poller drives sequential fetch cycles over the configured source chats.
type Poller struct {
	tg         TelegramClient
	states     *state.ChatStates
	pipeline   *Pipeline
	strategies map[state.ChatKind]fetchStrategy
	log        *logger.Logger

	chats      []*telegram.Chat
	interval   time.Duration
	fetchLimit int
}

// NewPoller creates a poller. interval is the inter-poll sleep, fetchLimit
// the per-chat batch size.
func NewPoller(tg TelegramClient, states *state.ChatStates, pipeline *Pipeline, interval time.Duration, fetchLimit int) *Poller {
	p := &Poller{
		tg:         tg,
		states:     states,
		pipeline:   pipeline,
		interval:   interval,
		fetchLimit: fetchLimit,
		log:        logger.Get(),
	}
	p.strategies = map[state.ChatKind]fetchStrategy{
		state.KindChannel: &channelStrategy{p},
		state.KindGroup:   &historyStrategy{p: p, kind: state.KindGroup},
		state.KindPrivate: &historyStrategy{p: p, kind: state.KindPrivate},
	}
	return p
}

// InitChats resolves the configured source identifiers and ensures each has
// a starting cursor. Chats that fail to resolve are logged and skipped; an
// error is returned only when no source chat is usable.
func (p *Poller) InitChats(ctx context.Context, identifiers []string) error {
	for _, ident := range identifiers {
		chat, err := p.tg.ResolveChat(ctx, ident)
		if err != nil {
			p.log.Error().Err(err).Str("identifier", ident).Msg("poller: could not resolve source chat")
			continue
		}

		strategy, ok := p.strategies[chat.Kind]
		if !ok {
			p.log.Error().Str("kind", string(chat.Kind)).Str("identifier", ident).Msg("poller: unsupported chat kind")
			continue
		}
		if err := strategy.initCursor(ctx, chat); err != nil {
			p.log.Error().Err(err).Str("identifier", ident).Msg("poller: failed to initialize chat cursor")
			continue
		}

		p.chats = append(p.chats, chat)
		p.log.Info().Int64("chat_id", chat.ID).Str("kind", string(chat.Kind)).Str("title", chat.Title).Msg("poller: watching chat")
	}

	if len(p.chats) == 0 {
		return fmt.Errorf("no valid source chats")
	}
	return nil
}

// Chats returns the resolved source chats.
func (p *Poller) Chats() []*telegram.Chat {
	return p.chats
}

// Run polls every source chat in turn, sleeping the poll interval between
// rounds, until the context is canceled. Per-chat errors are logged and do
// not stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	for {
		for _, chat := range p.chats {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := p.strategies[chat.Kind].poll(ctx, chat); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.log.Error().Err(err).Int64("chat_id", chat.ID).Msg("poller: fetch cycle failed")
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
}

// channelStrategy resumes channels from the pts update counter.
type channelStrategy struct {
	p *Poller
}

func (s *channelStrategy) initCursor(ctx context.Context, chat *telegram.Chat) error {
	if kind, ok := s.p.states.Kind(chat.ID); ok && kind == state.KindChannel {
		pts, _ := s.p.states.Pts(chat.ID)
		s.p.log.Info().Int64("chat_id", chat.ID).Int("pts", pts).Msg("poller: resuming channel from saved cursor")
		return nil
	}

	pts, err := s.p.tg.InitialPts(ctx, chat)
	if err != nil {
		return fmt.Errorf("fetch initial pts: %w", err)
	}
	s.p.states.Initialize(chat.ID, state.ChatState{Kind: state.KindChannel, Pts: pts})
	return nil
}

func (s *channelStrategy) poll(ctx context.Context, chat *telegram.Chat) error {
	pts, ok := s.p.states.Pts(chat.ID)
	if !ok {
		return fmt.Errorf("no cursor for channel %d", chat.ID)
	}

	diff, err := s.p.tg.ChannelDifference(ctx, chat, pts, s.p.fetchLimit)
	if err != nil {
		// FLOOD_WAIT lands here: the cursor stays put and the rate limiter
		// serves the pause before the next attempt
		return err
	}

	for _, msg := range diff.Messages {
		s.p.pipeline.ProcessMessage(ctx, chat, msg)
	}

	s.p.states.SetPts(chat.ID, diff.Pts)
	return nil
}

// historyStrategy resumes groups and private chats from the highest message
// id already fetched.
type historyStrategy struct {
	p    *Poller
	kind state.ChatKind
}

func (s *historyStrategy) initCursor(ctx context.Context, chat *telegram.Chat) error {
	if kind, ok := s.p.states.Kind(chat.ID); ok && kind == s.kind {
		last, _ := s.p.states.LastMessageID(chat.ID)
		s.p.log.Info().Int64("chat_id", chat.ID).Int("last_message_id", last).Msg("poller: resuming chat from saved cursor")
		return nil
	}

	last, err := s.p.tg.LatestMessageID(ctx, chat)
	if err != nil {
		return fmt.Errorf("fetch latest message id: %w", err)
	}
	s.p.states.Initialize(chat.ID, state.ChatState{Kind: s.kind, LastMessageID: last})
	return nil
}

func (s *historyStrategy) poll(ctx context.Context, chat *telegram.Chat) error {
	minID, ok := s.p.states.LastMessageID(chat.ID)
	if !ok {
		return fmt.Errorf("no cursor for chat %d", chat.ID)
	}

	messages, err := s.p.tg.MessagesSince(ctx, chat, minID, s.p.fetchLimit)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	maxID := minID
	for _, msg := range messages {
		s.p.pipeline.ProcessMessage(ctx, chat, msg)
		if msg.ID > maxID {
			maxID = msg.ID
		}
	}

	s.p.states.SetLastMessageID(chat.ID, maxID)
	return nil
}
