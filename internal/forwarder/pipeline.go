// Package forwarder implements the message intake pipeline: deduplication,
// media-group aggregation, classification and forwarding to the destination
// chat, plus the polling loop that drives it.
package forwarder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/tg-autoforwarder/internal/logger"
	"github.com/blockedby/tg-autoforwarder/internal/state"
	"github.com/blockedby/tg-autoforwarder/internal/telegram"
)

// TelegramClient defines the telegram operations the pipeline needs.
type TelegramClient interface {
	ResolveChat(ctx context.Context, identifier string) (*telegram.Chat, error)
	ChannelDifference(ctx context.Context, chat *telegram.Chat, pts int, limit int) (*telegram.Difference, error)
	MessagesSince(ctx context.Context, chat *telegram.Chat, minID int, limit int) ([]telegram.Message, error)
	Forward(ctx context.Context, dest *telegram.Chat, src *telegram.Chat, messageID int) error
	InitialPts(ctx context.Context, chat *telegram.Chat) (int, error)
	LatestMessageID(ctx context.Context, chat *telegram.Chat) (int, error)
}

// Classifier decides whether content is worth forwarding.
type Classifier interface {
	IsInteresting(ctx context.Context, text string) bool
}

// EventPublisher emits an event for every successful forward.
type EventPublisher interface {
	PublishForwarded(ctx context.Context, event ForwardedEvent) error
}

// ForwardedEvent is published after a message has been forwarded.
type ForwardedEvent struct {
	EventID     uuid.UUID `json:"event_id"`
	ChatID      int64     `json:"chat_id"`
	MessageID   int       `json:"message_id"`
	GroupID     int64     `json:"group_id,omitempty"`
	ContentHash string    `json:"content_hash"`
	ForwardedAt time.Time `json:"forwarded_at"`
}

// Pipeline runs each incoming message through hash check, classification and
// forwarding, recording the hash only after a successful forward so failed
// messages stay eligible for retry.
type Pipeline struct {
	tg         TelegramClient
	classifier Classifier
	hashes     *state.HashStore
	publisher  EventPublisher
	groups     *Aggregator
	log        *logger.Logger

	destIdentifier string
	destMu         sync.Mutex
	dest           *telegram.Chat
}

// NewPipeline creates the pipeline. publisher may be nil when event
// publishing is disabled. settle is the media-group settle delay.
func NewPipeline(
	tg TelegramClient,
	classifier Classifier,
	hashes *state.HashStore,
	publisher EventPublisher,
	destIdentifier string,
	settle time.Duration,
) *Pipeline {
	p := &Pipeline{
		tg:             tg,
		classifier:     classifier,
		hashes:         hashes,
		publisher:      publisher,
		destIdentifier: destIdentifier,
		log:            logger.Get(),
	}
	p.groups = NewAggregator(settle, p.deliverGroup)
	return p
}

// Groups returns the media-group aggregator, exposed for the shutdown
// sequence and the status endpoint.
func (p *Pipeline) Groups() *Aggregator {
	return p.groups
}

// ProcessMessage runs a single incoming message through the pipeline.
// Failures are logged and absorbed here: one bad message must not stop the
// enclosing fetch batch.
func (p *Pipeline) ProcessMessage(ctx context.Context, src *telegram.Chat, msg telegram.Message) {
	hash := state.HashText(msg.Text)

	if p.hashes.Contains(hash) {
		p.log.Debug().Int("message_id", msg.ID).Int64("chat_id", src.ID).Msg("forwarder: message already processed, skipping")
		return
	}

	if msg.GroupedID != 0 {
		p.groups.Add(src, msg, hash)
		return
	}

	if !p.classifier.IsInteresting(ctx, msg.Text) {
		p.log.Info().Int("message_id", msg.ID).Int64("chat_id", src.ID).Msg("forwarder: message filtered out")
		return
	}

	if err := p.forwardOne(ctx, src, msg, hash, 0); err != nil {
		p.log.Error().Err(err).Int("message_id", msg.ID).Int64("chat_id", src.ID).Msg("forwarder: failed to forward message")
	}
}

// forwardOne resolves the destination, forwards one message and records its
// hash. The hash is inserted only after the forward succeeded.
func (p *Pipeline) forwardOne(ctx context.Context, src *telegram.Chat, msg telegram.Message, hash string, groupID int64) error {
	dest, err := p.destination(ctx)
	if err != nil {
		return fmt.Errorf("resolve destination: %w", err)
	}

	if err := p.tg.Forward(ctx, dest, src, msg.ID); err != nil {
		return err
	}

	p.hashes.Insert(hash)
	p.log.Info().Int("message_id", msg.ID).Int64("chat_id", src.ID).Str("destination", dest.Title).Msg("forwarder: forwarded message")

	if p.publisher != nil {
		event := ForwardedEvent{
			EventID:     uuid.New(),
			ChatID:      src.ID,
			MessageID:   msg.ID,
			GroupID:     groupID,
			ContentHash: hash,
			ForwardedAt: time.Now().UTC(),
		}
		if err := p.publisher.PublishForwarded(ctx, event); err != nil {
			p.log.Warn().Err(err).Int("message_id", msg.ID).Msg("forwarder: failed to publish event")
		}
	}
	return nil
}

// deliverGroup processes a settled media group as one unit: skipped whole if
// any item is known, classified once on the concatenated text, forwarded item
// by item with per-item hash recording.
func (p *Pipeline) deliverGroup(ctx context.Context, groupID int64, items []groupItem) {
	for _, it := range items {
		if p.hashes.Contains(it.hash) {
			p.log.Debug().Int64("group_id", groupID).Msg("forwarder: media group already processed, skipping")
			return
		}
	}

	if !p.classifier.IsInteresting(ctx, groupText(items)) {
		p.log.Info().Int64("group_id", groupID).Int("items", len(items)).Msg("forwarder: media group filtered out")
		return
	}

	for _, it := range items {
		if err := p.forwardOne(ctx, it.chat, it.msg, it.hash, groupID); err != nil {
			// items already forwarded stay deduplicated, the rest will be
			// retried when the platform redelivers them
			p.log.Error().Err(err).Int64("group_id", groupID).Int("message_id", it.msg.ID).Msg("forwarder: failed to forward group item, aborting group")
			return
		}
	}
}

// groupText concatenates the primary text of every item in arrival order.
func groupText(items []groupItem) string {
	var out string
	for _, it := range items {
		if it.msg.Text == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += it.msg.Text
	}
	return out
}

// destination resolves the destination chat once and caches it. A resolution
// failure is returned to the caller so the triggering message keeps its hash
// out of the store and stays retryable.
func (p *Pipeline) destination(ctx context.Context) (*telegram.Chat, error) {
	p.destMu.Lock()
	defer p.destMu.Unlock()

	if p.dest != nil {
		return p.dest, nil
	}
	chat, err := p.tg.ResolveChat(ctx, p.destIdentifier)
	if err != nil {
		return nil, err
	}
	p.dest = chat
	return chat, nil
}
