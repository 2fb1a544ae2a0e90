package protocol

import "time"

// TimeLayout is the wire format for ticket timestamps, in chat-local time.
const TimeLayout = "15:04 02.01.2006"

// DisplayLayout is the human-facing form used in status announcements.
const DisplayLayout = "15:04, 02.01.2006"

// Ticket is one open support ticket. The registry key is the operator-supplied
// ticket number, taken from the caption of the message the open command
// replied to; it is never generated.
type Ticket struct {
	// StartTime is the chat-local opening timestamp, immutable after open.
	StartTime string `json:"start_time"`
	// ChatID and ThreadID locate the origin message.
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"message_thread_id"`
	// MessageID is the origin message (the reply target), deleted on close.
	MessageID int `json:"message_id"`
	// OpensMessageID is the status announcement, edited in place on close.
	OpensMessageID int `json:"opens_message_id"`
	// RemindTimes counts reminder fires.
	RemindTimes int `json:"remind_times"`
	// Notifications holds the ids of every reminder message sent so far,
	// oldest first. All of them are deleted on close.
	Notifications []int `json:"notification_messages"`
}

// DisplayTime reformats a wire timestamp for status messages. Input that does
// not parse is returned unchanged rather than dropped.
func DisplayTime(s string) string {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return s
	}
	return t.Format(DisplayLayout)
}
