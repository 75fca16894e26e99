// Package chat delivers messages back to users through the chat platform's
// Web API. The only surface the auth flow needs is ephemeral messages, which
// are visible to the addressed user alone.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/relaybot/relay/internal/config"
	"github.com/relaybot/relay/internal/infrastructure/vault"
	"github.com/relaybot/relay/pkg/constants"
	relayerrors "github.com/relaybot/relay/pkg/errors"
	"github.com/relaybot/relay/pkg/logger"
)

// Notifier posts messages to chat users.
type Notifier interface {
	// PostEphemeral sends a message in the given channel visible only to
	// the given user.
	PostEphemeral(ctx context.Context, channelID, userID, text string) error
}

type httpNotifier struct {
	baseURL    string
	secrets    vault.SecretSource
	httpClient *http.Client
	logger     logger.Logger
}

// NewNotifier creates a Notifier backed by the chat platform Web API. The
// bot token is resolved from the secret source on each call so a rotated
// token takes effect without a restart.
func NewNotifier(cfg config.ChatConfig, secrets vault.SecretSource, log logger.Logger) Notifier {
	return &httpNotifier{
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		secrets:    secrets,
		httpClient: &http.Client{Timeout: constants.ChatHTTPTimeout},
		logger:     log.WithComponent("ChatNotifier"),
	}
}

type ephemeralRequest struct {
	Channel string `json:"channel"`
	User    string `json:"user"`
	Text    string `json:"text"`
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (n *httpNotifier) PostEphemeral(ctx context.Context, channelID, userID, text string) error {
	secrets, err := n.secrets.GetSecrets(ctx)
	if err != nil {
		return relayerrors.Upstream("resolve chat bot token").WithCause(err)
	}
	botToken, ok := secrets[constants.SecretChatBotToken]
	if !ok || botToken == "" {
		return relayerrors.Upstream("chat bot token not configured")
	}

	body, err := json.Marshal(ephemeralRequest{Channel: channelID, User: userID, Text: text})
	if err != nil {
		return relayerrors.Upstream("encode chat message").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/chat.postEphemeral", strings.NewReader(string(body)))
	if err != nil {
		return relayerrors.Upstream("build chat request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+botToken)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return relayerrors.Upstream("chat API unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return relayerrors.Upstream("read chat response").WithCause(err)
	}
	if resp.StatusCode >= 300 {
		return relayerrors.Upstream(fmt.Sprintf("chat API returned status %d", resp.StatusCode))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return relayerrors.Upstream("decode chat response").WithCause(err)
	}
	if !apiResp.OK {
		return relayerrors.Upstream("chat API error: " + apiResp.Error)
	}

	n.logger.Debug(ctx, "posted ephemeral message", logger.Fields{
		"channel_id": channelID,
		"user_id":    userID,
	})
	return nil
}
