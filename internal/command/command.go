// Package command parses chat messages into bot commands and routes them to
// the ticket lifecycle.
package command

import "strings"

// Kind identifies a parsed command.
type Kind int

const (
	KindNone Kind = iota
	KindOpen
	KindClose
	KindList
	KindDump
	KindHelp
	KindTopicID
)

// Parse classifies a message text. Open and close are exact-match single
// characters; the rest are keyword matches anywhere in the text, checked in
// priority order.
func Parse(text string) Kind {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	switch trimmed {
	case "+":
		return KindOpen
	case "-":
		return KindClose
	}
	switch {
	case strings.Contains(trimmed, "list"):
		return KindList
	case strings.Contains(trimmed, "dump"):
		return KindDump
	case strings.Contains(trimmed, "bot help"):
		return KindHelp
	case strings.Contains(trimmed, "tid"):
		return KindTopicID
	}
	return KindNone
}
