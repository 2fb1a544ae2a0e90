package connector

import "strings"

// Escape makes arbitrary text safe for the messenger's HTML subset. Ticket
// numbers come from message captions, so anything can be in them.
func Escape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// Pre wraps text in a preformatted block, escaping its content.
func Pre(s string) string {
	return "<pre>" + Escape(s) + "</pre>"
}
