package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dutybot-io/dutybot/internal/connector"
)

// update mirrors the getUpdates payload with the forum-topic fields the
// pinned library version does not decode.
type update struct {
	UpdateID int      `json:"update_id"`
	Message  *message `json:"message"`
}

type message struct {
	MessageID       int            `json:"message_id"`
	MessageThreadID int            `json:"message_thread_id"`
	Chat            *tgbotapi.Chat `json:"chat"`
	Text            string         `json:"text"`
	Caption         string         `json:"caption"`
	ReplyToMessage  *message       `json:"reply_to_message"`
}

// inbound converts a wire message into the connector's inbound shape.
func (m *message) inbound() connector.Inbound {
	text := m.Text
	if text == "" {
		text = m.Caption
	}

	in := connector.Inbound{
		Location:  connector.Location{ChatID: m.Chat.ID, ThreadID: m.MessageThreadID},
		MessageID: m.MessageID,
		Group:     m.Chat.IsGroup() || m.Chat.IsSuperGroup(),
		Text:      text,
	}

	if r := m.ReplyToMessage; r != nil {
		loc := in.Location
		if r.Chat != nil {
			loc = connector.Location{ChatID: r.Chat.ID, ThreadID: r.MessageThreadID}
		}
		in.Reply = &connector.Reply{
			Caption:   r.Caption,
			Location:  loc,
			MessageID: r.MessageID,
		}
	}
	return in
}
