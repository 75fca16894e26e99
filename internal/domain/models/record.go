// Package models defines the durable data model for per-user provider
// authorization state.
package models

import "time"

// ProviderTokenRecord is the durable authorization state for one
// (user, provider) pair. Token fields hold ciphertext only; the plaintext
// refresh token is never persisted.
type ProviderTokenRecord struct {
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`

	// EncryptedRefreshToken is the envelope-encrypted refresh token. The
	// stored value is replaced on every successful use (rotation); the old
	// value becomes permanently invalid at the provider.
	EncryptedRefreshToken string `json:"encrypted_refresh_token"`

	// EncryptedAccessToken is the envelope-encrypted short-lived access
	// token, kept only as an expiry estimate companion.
	EncryptedAccessToken string `json:"encrypted_access_token,omitempty"`

	// TokenExpiresAt is the Unix-time estimate of the access token expiry.
	TokenExpiresAt int64 `json:"token_expires_at"`

	// ResourceID is the provider-side account/site identifier (e.g. a cloud
	// or tenant id) required for subsequent API calls.
	ResourceID string `json:"resource_id"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// AuthorizationNonce is the one-time CSRF correlation value minted when the
// dashboard issues a provider authorization URL. It is deleted on first
// successful validation.
type AuthorizationNonce struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	CreatedAt int64  `json:"created_at"`
}

// MarkerStatusCompleted is the only status a portal session marker carries.
const MarkerStatusCompleted = "completed"

// PortalSessionMarker is the ephemeral flag the callback writes so the agent,
// stateless across turns, learns that a connection completed. Read-and-deleted
// by the agent on the next interaction.
type PortalSessionMarker struct {
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	Provider  string `json:"provider"`
	UpdatedAt int64  `json:"updated_at"`
}

// NewTokenRecord builds a fresh record for a completed code exchange.
func NewTokenRecord(userID, provider, encryptedRefresh, encryptedAccess, resourceID string, expiresAt time.Time) *ProviderTokenRecord {
	now := time.Now().Unix()
	return &ProviderTokenRecord{
		UserID:                userID,
		Provider:              provider,
		EncryptedRefreshToken: encryptedRefresh,
		EncryptedAccessToken:  encryptedAccess,
		TokenExpiresAt:        expiresAt.Unix(),
		ResourceID:            resourceID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}
