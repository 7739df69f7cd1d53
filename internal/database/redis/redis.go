// Package redis stores OTP challenges in Redis. Conditional updates use
// WATCH/MULTI so a re-issued challenge is never marked verified by a stale check.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kozaktomas/voter-gate/internal/config"
	"github.com/kozaktomas/voter-gate/internal/constants"
	"github.com/kozaktomas/voter-gate/internal/database"
)

// maxTxRetries bounds optimistic transaction retries under contention.
const maxTxRetries = 5

// NewClient connects to Redis and verifies the connection.
func NewClient(cfg config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// ChallengeStore is a Redis-backed database.ChallengeStore.
// Entries live for retention so an expired challenge still reports Expired
// for a while instead of NotFound.
type ChallengeStore struct {
	client    *goredis.Client
	prefix    string
	retention time.Duration
}

// NewChallengeStore creates a store whose entries expire after twice the OTP window.
func NewChallengeStore(client *goredis.Client, window time.Duration) *ChallengeStore {
	return &ChallengeStore{
		client:    client,
		prefix:    "otp:",
		retention: constants.ChallengeRetentionFactor * window,
	}
}

type storedJSON struct {
	ID       string    `json:"id"`
	CodeHash string    `json:"code_hash"`
	IssuedAt time.Time `json:"issued_at"`
	Verified bool      `json:"verified"`
}

func (s *ChallengeStore) key(identityKey string) string {
	return s.prefix + identityKey
}

// Put stores the challenge, overwriting any previous one
func (s *ChallengeStore) Put(ctx context.Context, ch *database.StoredChallenge) error {
	data, err := json.Marshal(storedJSON{
		ID:       ch.ID,
		CodeHash: ch.CodeHash,
		IssuedAt: ch.IssuedAt,
		Verified: ch.Verified,
	})
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	if err := s.client.Set(ctx, s.key(ch.IdentityKey), data, s.retention).Err(); err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	return nil
}

// Get retrieves the current challenge, returns nil if none exists
func (s *ChallengeStore) Get(ctx context.Context, identityKey string) (*database.StoredChallenge, error) {
	val, err := s.client.Get(ctx, s.key(identityKey)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return decode(identityKey, val)
}

func decode(identityKey string, val []byte) (*database.StoredChallenge, error) {
	var sj storedJSON
	if err := json.Unmarshal(val, &sj); err != nil {
		return nil, fmt.Errorf("unmarshal challenge: %w", err)
	}
	return &database.StoredChallenge{
		IdentityKey: identityKey,
		ID:          sj.ID,
		CodeHash:    sj.CodeHash,
		IssuedAt:    sj.IssuedAt,
		Verified:    sj.Verified,
	}, nil
}

// MarkVerified flags the challenge as verified if it still has the given ID
func (s *ChallengeStore) MarkVerified(ctx context.Context, identityKey, challengeID string) (bool, error) {
	k := s.key(identityKey)
	marked := false

	txf := func(tx *goredis.Tx) error {
		marked = false
		val, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		ch, err := decode(identityKey, val)
		if err != nil {
			return err
		}
		if ch.ID != challengeID {
			return nil
		}

		data, err := json.Marshal(storedJSON{
			ID:       ch.ID,
			CodeHash: ch.CodeHash,
			IssuedAt: ch.IssuedAt,
			Verified: true,
		})
		if err != nil {
			return fmt.Errorf("marshal challenge: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, k, data, goredis.KeepTTL)
			return nil
		})
		if err == nil {
			marked = true
		}
		return err
	}

	if err := s.watch(ctx, txf, k); err != nil {
		return false, fmt.Errorf("mark challenge verified: %w", err)
	}
	return marked, nil
}

// Delete removes the challenge if it still has the given ID
func (s *ChallengeStore) Delete(ctx context.Context, identityKey, challengeID string) (bool, error) {
	k := s.key(identityKey)

	var deleted bool
	txf := func(tx *goredis.Tx) error {
		val, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		ch, err := decode(identityKey, val)
		if err != nil {
			return err
		}
		if ch.ID != challengeID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, k)
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}

	if err := s.watch(ctx, txf, k); err != nil {
		return false, fmt.Errorf("delete challenge: %w", err)
	}
	return deleted, nil
}

func (s *ChallengeStore) watch(ctx context.Context, fn func(*goredis.Tx) error, key string) error {
	for range maxTxRetries {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return goredis.TxFailedErr
}
