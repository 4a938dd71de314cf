package notify

import (
	"strings"

	goslack "github.com/slack-go/slack"
)

// foldText lowercases and collapses runs of whitespace so a session ID
// matches regardless of how Slack wrapped the notice.
func foldText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// messageText flattens a history entry into one searchable string,
// attachment text and fallbacks included.
func messageText(msg goslack.Message) string {
	parts := []string{msg.Text}
	for _, att := range msg.Attachments {
		parts = append(parts, att.Text, att.Fallback)
	}
	return strings.Join(parts, " ")
}
