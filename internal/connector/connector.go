package connector

import "context"

// Location identifies where a message lives: a chat and, in forum
// supergroups, the topic thread inside it. A zero ThreadID means the
// chat's general thread.
type Location struct {
	ChatID   int64
	ThreadID int
}

// Messenger is the outbound boundary to the chat platform. Message ids are
// platform-assigned; callers record them for later edits and deletions.
// Text is in the platform's HTML subset; use Escape and Pre for user content.
type Messenger interface {
	// Send posts text at the location and returns the new message's id.
	Send(ctx context.Context, loc Location, text string) (int, error)
	// Edit replaces the text of an existing message.
	Edit(ctx context.Context, loc Location, messageID int, text string) error
	// Delete removes a message. Callers treat failure as non-fatal.
	Delete(ctx context.Context, loc Location, messageID int) error
}

// Reply describes the message an inbound command was a reply to. The ticket
// number for open and close commands is the reply target's caption.
type Reply struct {
	Caption   string
	Location  Location
	MessageID int
}

// Inbound is a message received from the chat platform.
type Inbound struct {
	Location  Location
	MessageID int
	Group     bool // sent in a group or supergroup
	Text      string
	Reply     *Reply // nil when the message is not a reply
}

// Handler processes inbound messages. Returned errors are logged by the
// connector; they never stop the polling loop.
type Handler func(ctx context.Context, msg Inbound) error
