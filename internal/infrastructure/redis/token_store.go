package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaybot/relay/internal/domain/models"
	"github.com/relaybot/relay/internal/domain/repository"
	"github.com/relaybot/relay/pkg/constants"
	relayerrors "github.com/relaybot/relay/pkg/errors"
)

// redisTokenStore is the Redis implementation of repository.TokenStore.
// Token records carry no TTL; nonces and markers expire server-side.
type redisTokenStore struct {
	client *redis.Client
}

// NewTokenStore creates a Redis-backed token store.
func NewTokenStore(client *redis.Client) repository.TokenStore {
	return &redisTokenStore{client: client}
}

// GetRecord returns the token record for (user, provider), or nil.
func (s *redisTokenStore) GetRecord(ctx context.Context, userID, provider string) (*models.ProviderTokenRecord, error) {
	key := constants.TokenRecordKey(userID, provider)
	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, relayerrors.Storage("get token record").WithCause(err)
	}

	var record models.ProviderTokenRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, relayerrors.Storage("decode token record").WithCause(err)
	}
	return &record, nil
}

// PutRecord stores a token record, overwriting any prior one.
func (s *redisTokenStore) PutRecord(ctx context.Context, record *models.ProviderTokenRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return relayerrors.Storage("encode token record").WithCause(err)
	}

	key := constants.TokenRecordKey(record.UserID, record.Provider)
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return relayerrors.Storage("put token record").WithCause(err)
	}
	return nil
}

// UpdateRecordFields swaps in a rotated refresh token with a WATCH-guarded
// read-modify-write, so a concurrent overwrite wins cleanly rather than being
// half-merged.
func (s *redisTokenStore) UpdateRecordFields(ctx context.Context, userID, provider, encryptedRefresh string, tokenExpiresAt int64) error {
	key := constants.TokenRecordKey(userID, provider)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return relayerrors.Storage("token record not found for update")
			}
			return err
		}

		var record models.ProviderTokenRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return err
		}

		record.EncryptedRefreshToken = encryptedRefresh
		record.UpdatedAt = time.Now().Unix()
		if tokenExpiresAt > 0 {
			record.TokenExpiresAt = tokenExpiresAt
		}

		newData, err := json.Marshal(&record)
		if err != nil {
			return err
		}

		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, newData, 0)
		_, err = pipe.Exec(ctx)
		return err
	}, key)
	if err != nil {
		if re, ok := relayerrors.As(err); ok {
			return re
		}
		return relayerrors.Storage("update token record").WithCause(err)
	}
	return nil
}

// DeleteRecord removes the record for (user, provider).
func (s *redisTokenStore) DeleteRecord(ctx context.Context, userID, provider string) error {
	key := constants.TokenRecordKey(userID, provider)
	if err := s.client.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return relayerrors.Storage("delete token record").WithCause(err)
	}
	return nil
}

// PutNonce stores a one-time authorization nonce with the given TTL.
func (s *redisTokenStore) PutNonce(ctx context.Context, nonce *models.AuthorizationNonce, ttl time.Duration) error {
	data, err := json.Marshal(nonce)
	if err != nil {
		return relayerrors.Storage("encode nonce").WithCause(err)
	}

	if err := s.client.Set(ctx, constants.NonceKey(nonce.ID), data, ttl).Err(); err != nil {
		return relayerrors.Storage("put nonce").WithCause(err)
	}
	return nil
}

// ConsumeNonce validates and deletes a nonce in one step. The delete runs
// before the ownership check so a nonce is spent on first presentation even
// when that presentation fails the user binding.
func (s *redisTokenStore) ConsumeNonce(ctx context.Context, nonceID, userID string) error {
	key := constants.NonceKey(nonceID)

	// GETDEL makes lookup and one-time-use deletion a single atomic step.
	data, err := s.client.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return relayerrors.CSRF("invalid or expired nonce")
		}
		return relayerrors.Storage("consume nonce").WithCause(err)
	}

	var nonce models.AuthorizationNonce
	if err := json.Unmarshal([]byte(data), &nonce); err != nil {
		return relayerrors.Storage("decode nonce").WithCause(err)
	}

	if nonce.UserID != userID {
		return relayerrors.CSRF("nonce user mismatch")
	}
	return nil
}

// PutMarker stores a portal session completion marker.
func (s *redisTokenStore) PutMarker(ctx context.Context, marker *models.PortalSessionMarker, ttl time.Duration) error {
	data, err := json.Marshal(marker)
	if err != nil {
		return relayerrors.Storage("encode session marker").WithCause(err)
	}

	if err := s.client.Set(ctx, constants.MarkerKey(marker.UserID), data, ttl).Err(); err != nil {
		return relayerrors.Storage("put session marker").WithCause(err)
	}
	return nil
}

// TakeMarker returns and deletes the completion marker for a user.
func (s *redisTokenStore) TakeMarker(ctx context.Context, userID string) (*models.PortalSessionMarker, error) {
	key := constants.MarkerKey(userID)

	data, err := s.client.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, relayerrors.Storage("take session marker").WithCause(err)
	}

	var marker models.PortalSessionMarker
	if err := json.Unmarshal([]byte(data), &marker); err != nil {
		return nil, relayerrors.Storage("decode session marker").WithCause(err)
	}
	return &marker, nil
}
