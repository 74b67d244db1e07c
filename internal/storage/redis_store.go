package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tabletop-sync/lifesync/internal/apperrors"
	"github.com/tabletop-sync/lifesync/internal/models"
)

const redisMutateRetries = 10

// RedisOptions holds connection settings for RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore implements Store using Redis.
// Sessions are stored as JSON documents with a TTL for automatic cleanup.
// Every committed write is also published on a per-session channel so that
// subscribers on other server instances see it.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration // Time-to-live for sessions (0 = no expiration)
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection.
//
// Parameters:
//   - opts: Address, password and database number
//   - ttl: Time-to-live for sessions (0 = no expiration)
func NewRedisStore(ctx context.Context, opts RedisOptions, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Create stores a new session and claims its join code.
func (s *RedisStore) Create(ctx context.Context, session models.Session) error {
	data, err := marshalSession(session)
	if err != nil {
		return err
	}

	created, err := s.client.SetNX(ctx, sessionKey(session.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	if !created {
		return ErrSessionExists
	}

	if session.Code == "" {
		return nil
	}
	claimed, err := s.client.SetNX(ctx, codeKey(session.Code), session.ID, s.ttl).Result()
	if err != nil || !claimed {
		s.client.Del(ctx, sessionKey(session.ID))
		if err != nil {
			return fmt.Errorf("failed to index session code: %w", err)
		}
		return apperrors.New(apperrors.CodeSessionExists, fmt.Sprintf("code %s already in use", session.Code))
	}
	return nil
}

// Get retrieves a session from Redis.
func (s *RedisStore) Get(ctx context.Context, id string) (models.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Session{}, ErrSessionNotFound
		}
		return models.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	return unmarshalSession(data)
}

// GetByCode resolves the code index and loads the session.
func (s *RedisStore) GetByCode(ctx context.Context, code string) (models.Session, error) {
	id, err := s.client.Get(ctx, codeKey(code)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Session{}, ErrSessionNotFound
		}
		return models.Session{}, fmt.Errorf("failed to resolve code: %w", err)
	}
	return s.Get(ctx, id)
}

// Mutate runs fn inside WATCH/MULTI and retries when another writer wins.
func (s *RedisStore) Mutate(ctx context.Context, id string, fn MutateFunc) (models.Session, error) {
	key := sessionKey(id)
	var committed models.Session

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("failed to get session: %w", err)
		}
		current, err := unmarshalSession(data)
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		if err := CheckCommit(id, current, next); err != nil {
			return err
		}
		out, err := marshalSession(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.ttl)
			if s.ttl > 0 && next.Code != "" {
				pipe.Expire(ctx, codeKey(next.Code), s.ttl)
			}
			pipe.Publish(ctx, updatesChannel(id), out)
			return nil
		})
		if err != nil {
			return err
		}
		committed = next
		return nil
	}

	for i := 0; i < redisMutateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return committed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return models.Session{}, err
	}
	return models.Session{}, fmt.Errorf("failed to update session %s: too much contention", id)
}

// Delete deletes a session and releases its code when it still owns it.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	session, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	keys := []string{sessionKey(id)}
	if session.Code != "" {
		owner, err := s.client.Get(ctx, codeKey(session.Code)).Result()
		if err == nil && owner == id {
			keys = append(keys, codeKey(session.Code))
		}
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Subscribe listens on the session's update channel. The current value is
// delivered first.
func (s *RedisStore) Subscribe(ctx context.Context, id string, fn SnapshotFunc) (func(), error) {
	pubsub := s.client.Subscribe(ctx, updatesChannel(id))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	// Read after the subscription is live so no commit falls in between.
	current, err := s.Get(ctx, id)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		fn(current)
		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				snapshot, err := unmarshalSession([]byte(msg.Payload))
				if err != nil {
					continue
				}
				if snapshot.LastUpdate <= current.LastUpdate {
					continue
				}
				current = snapshot
				fn(snapshot)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}, nil
}

// sessionKey generates a Redis key for a session.
func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func codeKey(code string) string {
	return fmt.Sprintf("session_code:%s", code)
}

func updatesChannel(id string) string {
	return fmt.Sprintf("session_updates:%s", id)
}
