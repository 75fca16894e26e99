// Package repository defines the persistence interfaces of the domain layer.
package repository

import (
	"context"
	"time"

	"github.com/relaybot/relay/internal/domain/models"
)

// TokenStore is the durable keyed store holding provider token records, CSRF
// nonces, and portal session markers. All operations are single-item; no
// cross-item transactions are assumed. Absence is reported as (nil, nil),
// never as an error.
//
// Callers must read token records fresh on every use: rotation makes any
// cached copy stale immediately.
type TokenStore interface {
	// GetRecord returns the token record for (user, provider), or nil.
	GetRecord(ctx context.Context, userID, provider string) (*models.ProviderTokenRecord, error)

	// PutRecord stores a token record, overwriting any prior record for the
	// same (user, provider) pair.
	PutRecord(ctx context.Context, record *models.ProviderTokenRecord) error

	// UpdateRecordFields replaces the encrypted refresh token (and, when
	// non-zero, the access-token expiry estimate) of an existing record,
	// bumping its updated_at. Used for rotation.
	UpdateRecordFields(ctx context.Context, userID, provider, encryptedRefresh string, tokenExpiresAt int64) error

	// DeleteRecord removes the record for (user, provider). Deleting an
	// absent record is not an error.
	DeleteRecord(ctx context.Context, userID, provider string) error

	// PutNonce stores a one-time authorization nonce with the given TTL.
	PutNonce(ctx context.Context, nonce *models.AuthorizationNonce, ttl time.Duration) error

	// ConsumeNonce validates and deletes a nonce in one step: the nonce must
	// exist, be unexpired, and be bound to userID. Deletion happens on any
	// successful lookup, before ownership is reported, so a replayed nonce
	// can never validate twice.
	ConsumeNonce(ctx context.Context, nonceID, userID string) error

	// PutMarker stores a portal session completion marker with the given TTL.
	PutMarker(ctx context.Context, marker *models.PortalSessionMarker, ttl time.Duration) error

	// TakeMarker returns and deletes the completion marker for a user, or nil
	// if none exists. A marker is observed at most once.
	TakeMarker(ctx context.Context, userID string) (*models.PortalSessionMarker, error)
}
