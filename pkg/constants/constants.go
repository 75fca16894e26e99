// Package constants defines shared constants for the Relay auth service:
// store key shapes, token lifetimes, secret names, and context keys.
package constants

import "time"

// ================================================================================
// Token Lifetime Constants
// ================================================================================

const (
	// HandoffTokenTTL is the lifetime of a portal hand-off token (10 minutes)
	HandoffTokenTTL = 10 * time.Minute

	// NonceTTL is the lifetime of a CSRF authorization nonce (10 minutes)
	NonceTTL = 10 * time.Minute

	// SessionMarkerTTL is the lifetime of a portal completion marker (1 hour)
	SessionMarkerTTL = 1 * time.Hour

	// AccessTokenFallbackTTL is assumed for provider access tokens when the
	// token response omits expires_in (~1 hour for most providers)
	AccessTokenFallbackTTL = 1 * time.Hour

	// GatewayTokenRefreshBuffer is subtracted from the gateway access token
	// expiry so a token is replaced before it actually lapses (5 minutes)
	GatewayTokenRefreshBuffer = 5 * time.Minute
)

// ================================================================================
// Store Key Shapes
// ================================================================================

// The token record store is a single keyed namespace shared by provider token
// records, CSRF nonces, and portal session markers. Key shapes follow
// user#<id>#<provider>, nonce#<id> and portal#<user>.
const (
	// StoreKeyPrefixToken is the prefix for provider token records
	StoreKeyPrefixToken = "user#"

	// StoreKeyPrefixNonce is the prefix for authorization nonces
	StoreKeyPrefixNonce = "nonce#"

	// StoreKeyPrefixMarker is the prefix for portal session markers
	StoreKeyPrefixMarker = "portal#"
)

// TokenRecordKey builds the store key for a (user, provider) token record.
func TokenRecordKey(userID, provider string) string {
	return StoreKeyPrefixToken + userID + "#" + provider
}

// NonceKey builds the store key for an authorization nonce.
func NonceKey(nonceID string) string {
	return StoreKeyPrefixNonce + nonceID
}

// MarkerKey builds the store key for a portal session marker.
func MarkerKey(userID string) string {
	return StoreKeyPrefixMarker + userID
}

// ================================================================================
// Secret Names
// ================================================================================

// Keys expected in the static secret bundle fetched once at startup.
const (
	// SecretPortalSigningKey is the shared hand-off token signing secret
	SecretPortalSigningKey = "PORTAL_SIGNING_SECRET"

	// SecretChatBotToken is the chat platform bot token used for private
	// message delivery
	SecretChatBotToken = "CHAT_BOT_TOKEN"

	// SecretGatewayClientSecret is the client secret for the read-only tool
	// gateway client-credentials grant
	SecretGatewayClientSecret = "GATEWAY_CLIENT_SECRET"
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey is a typed key for request-scoped context values.
type ContextKey string

const (
	// ContextKeyRequestID carries the per-request identifier
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyTraceID carries the distributed trace identifier
	ContextKeyTraceID ContextKey = "trace_id"

	// ContextKeyUserID carries the authenticated chat user identifier
	ContextKeyUserID ContextKey = "user_id"
)

// ================================================================================
// Timeouts
// ================================================================================

const (
	// ProviderHTTPTimeout bounds calls to provider token and resource endpoints
	ProviderHTTPTimeout = 10 * time.Second

	// ChatHTTPTimeout bounds calls to the chat platform API
	ChatHTTPTimeout = 10 * time.Second

	// StoreOperationTimeout bounds a single store round trip
	StoreOperationTimeout = 10 * time.Second
)
