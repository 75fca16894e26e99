package agent

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/relaybot/relay/internal/chat"
	"github.com/relaybot/relay/internal/handoff"
	"github.com/relaybot/relay/pkg/constants"
	"github.com/relaybot/relay/pkg/logger"
)

// Tool is one capability the agent may expose for a turn.
type Tool struct {
	Name        string
	Description string
	Invoke      func(ctx context.Context) (string, error)
}

// Toolset is the per-turn capability decision for one provider. Exactly one
// of the two shapes is produced: write access enabled with the user's access
// credential attached, or a single authorization-request capability. The two
// are never mixed; offering both risks the agent choosing the weaker one.
type Toolset struct {
	Provider     string
	WriteEnabled bool

	// Access is set when WriteEnabled; the turn's provider credential.
	Access *Access

	// Filter restricts gateway tool names for this turn.
	Filter *ToolFilter

	Tools []Tool
}

// ToolsetBuilder assembles per-turn toolsets from the consumer's state.
type ToolsetBuilder struct {
	consumer   *Consumer
	codec      *handoff.Codec
	notifier   chat.Notifier
	portalURL  string
	handoffTTL time.Duration
	logger     logger.Logger
}

// NewToolsetBuilder creates the builder. portalURL is the externally
// reachable base URL of the authorization portal.
func NewToolsetBuilder(consumer *Consumer, codec *handoff.Codec, notifier chat.Notifier, portalURL string, log logger.Logger) *ToolsetBuilder {
	return &ToolsetBuilder{
		consumer:   consumer,
		codec:      codec,
		notifier:   notifier,
		portalURL:  portalURL,
		handoffTTL: constants.HandoffTokenTTL,
		logger:     log.WithComponent("ToolsetBuilder"),
	}
}

// Build decides the turn's capabilities for one provider. A usable stored
// token yields write-enabled tools behind a read-write filter; anything else
// yields the single authorization-request capability behind a read-only
// filter.
func (b *ToolsetBuilder) Build(ctx context.Context, userID, displayName, channelID, provider string) *Toolset {
	access, err := b.consumer.EnsureAccess(ctx, userID, provider)
	if err != nil {
		b.logger.Warn(ctx, "access unavailable for turn", logger.Fields{
			"provider": provider,
			"error":    err.Error(),
		})
	}

	if access != nil {
		return &Toolset{
			Provider:     provider,
			WriteEnabled: true,
			Access:       access,
			Filter:       NewToolFilter(ModeReadWrite),
		}
	}

	return &Toolset{
		Provider: provider,
		Filter:   NewToolFilter(ModeReadOnly),
		Tools: []Tool{
			b.authorizationTool(userID, displayName, channelID, provider),
		},
	}
}

// authorizationTool is the single capability offered when no usable token
// exists. Invoking it mints a hand-off token, builds the portal link, and
// delivers it privately; the link is never posted where other occupants of a
// shared channel could bind their session to this user's account.
func (b *ToolsetBuilder) authorizationTool(userID, displayName, channelID, provider string) Tool {
	return Tool{
		Name:        "request_authorization",
		Description: "Generate a private authorization portal link so the user can connect their account.",
		Invoke: func(ctx context.Context) (string, error) {
			token, err := b.codec.Issue(handoff.Claims{
				handoff.ClaimSubject:     userID,
				handoff.ClaimDisplayName: displayName,
			}, b.handoffTTL)
			if err != nil {
				return "", err
			}
			link := b.portalURL + "/?token=" + url.QueryEscape(token)

			text := fmt.Sprintf(
				"<%s|Connect Your %s Account>\n\nThis link is only visible to you and expires in 10 minutes.",
				link, titleCase(provider),
			)
			if err := b.notifier.PostEphemeral(ctx, channelID, userID, text); err != nil {
				b.logger.Warn(ctx, "ephemeral delivery failed, returning link in tool result", logger.Fields{
					"provider": provider,
					"error":    err.Error(),
				})
				return "Authorization link (private, expires in 10 minutes): " + link, nil
			}
			return "An authorization link has been sent to the user as a private message. Ask them to open it, authorize, and retry their command.", nil
		},
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
