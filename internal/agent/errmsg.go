package agent

import (
	"fmt"
	"strings"
)

var throttlingKeywords = []string{
	"throttl",
	"rate limit",
	"too many requests",
	"quota exceeded",
	"service unavailable",
	"timeout",
}

var contextOverflowKeywords = []string{
	"context window",
	"context_window",
	"too many tokens",
	"input too long",
	"maximum context",
	"contextwindowexceeded",
	"token limit",
	"input is too long",
}

// ConversationalError translates a raw agent-runtime failure into guidance
// the user can act on. Raw error text never reaches the chat channel.
func ConversationalError(botName string, err error) string {
	if botName == "" {
		botName = "Relay"
	}
	msg := strings.ToLower(fmt.Sprint(err))

	for _, kw := range contextOverflowKeywords {
		if strings.Contains(msg, kw) {
			return fmt.Sprintf(
				"*%s's request was too large to process.*\n\n"+
					"This usually happens when a request involves too many items. Try narrowing it down:\n"+
					"• Limit to a specific sprint or date range\n"+
					"• Focus on a subset of owners or priorities\n"+
					"• Ask about fewer items at a time",
				botName,
			)
		}
	}
	for _, kw := range throttlingKeywords {
		if strings.Contains(msg, kw) {
			return fmt.Sprintf(
				"*%s is currently experiencing high demand and has been throttled.*\n\n"+
					"*Please try your request again in a few minutes.* You can also:\n"+
					"• Wait 5-10 minutes and try again\n"+
					"• Break down complex requests into smaller parts",
				botName,
			)
		}
	}
	return fmt.Sprintf(
		"*%s encountered an unexpected error.*\n\n"+
			"*Please try your request again.* If the issue persists, contact the team with details about your request.",
		botName,
	)
}
