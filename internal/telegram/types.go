package telegram

import (
	"time"

	"github.com/blockedby/tg-autoforwarder/internal/state"
)

// Chat is a resolved source or destination chat.
// AccessHash is zero for basic groups and carries the API access token for
// channels and users.
type Chat struct {
	ID         int64          // chat id
	AccessHash int64          // access hash for api calls
	Kind       state.ChatKind // channel / group / private
	Title      string         // display title (username or first name as fallback)
	Identifier string         // the configured identifier this chat resolved from
}

// Message is a parsed incoming message.
type Message struct {
	ID        int       // message id (unique within chat)
	ChatID    int64     // source chat id
	Text      string    // primary text content (message body or media caption)
	GroupedID int64     // media group id, zero when not part of an album
	Date      time.Time // message creation timestamp
}

// Difference is the result of one incremental channel fetch.
type Difference struct {
	Messages []Message // new messages in delivery order
	Pts      int       // cursor to persist after processing
}
