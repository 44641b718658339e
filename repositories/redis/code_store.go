// Package redis implements the Code Store on Redis. Each code is a hash with a
// TTL; a sorted set per (purpose, email) orders codes by creation time.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aiclub/website-backend/models"
	"github.com/aiclub/website-backend/repositories"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix   = "vc"
	expiryIndex = keyPrefix + ":expiry"
	maxRetries  = 4

	// Retention keeps expired codes readable long enough for a late
	// verification attempt to retire them instead of missing them.
	defaultRetention = 10 * time.Minute
)

var errContention = errors.New("verification code store: too much contention")

// CodeStore implements repositories.CodeRepository on Redis
type CodeStore struct {
	client    *goredis.Client
	retention time.Duration
	logger    *zap.Logger
}

// NewCodeStore creates a Redis-backed code store
func NewCodeStore(client *goredis.Client, logger *zap.Logger) *CodeStore {
	return &CodeStore{
		client:    client,
		retention: defaultRetention,
		logger:    logger,
	}
}

// NewClient parses a redis:// URL and verifies the connection
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func codeKey(id uuid.UUID) string {
	return keyPrefix + ":" + id.String()
}

func indexKey(email string, purpose models.CodePurpose) string {
	return keyPrefix + ":idx:" + string(purpose) + ":" + email
}

// Create inserts a new code
func (s *CodeStore) Create(ctx context.Context, code *models.VerificationCode) error {
	key := codeKey(code.ID)
	idx := indexKey(code.Email, code.Purpose)
	expireAt := code.Expiry.Add(s.retention)

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"email", code.Email,
			"hashed_code", code.HashedCode,
			"purpose", string(code.Purpose),
			"expiry", code.Expiry.UnixNano(),
			"used", boolField(code.Used),
			"attempts", code.Attempts,
			"created_at", code.CreatedAt.UnixNano(),
		)
		pipe.PExpireAt(ctx, key, expireAt)
		pipe.ZAdd(ctx, idx, goredis.Z{Score: float64(code.CreatedAt.UnixMicro()), Member: code.ID.String()})
		pipe.PExpireAt(ctx, idx, expireAt)
		pipe.ZAdd(ctx, expiryIndex, goredis.Z{Score: float64(code.Expiry.UnixMicro()), Member: code.ID.String()})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create verification code: %w", err)
	}

	s.logger.Debug("verification code created",
		zap.String("id", code.ID.String()),
		zap.String("purpose", string(code.Purpose)))
	return nil
}

// FindActiveCode returns the most recent unused code for email and purpose
func (s *CodeStore) FindActiveCode(ctx context.Context, email string, purpose models.CodePurpose) (*models.VerificationCode, error) {
	codes, err := s.list(ctx, email, purpose)
	if err != nil {
		return nil, err
	}
	for _, c := range codes {
		if !c.Used {
			return c, nil
		}
	}
	return nil, repositories.ErrNotFound
}

// list returns the codes for email and purpose newest first, pruning index
// members whose hash has already expired
func (s *CodeStore) list(ctx context.Context, email string, purpose models.CodePurpose) ([]*models.VerificationCode, error) {
	idx := indexKey(email, purpose)
	ids, err := s.client.ZRevRange(ctx, idx, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list verification codes: %w", err)
	}

	codes := make([]*models.VerificationCode, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		code, err := s.get(ctx, s.client, id)
		if errors.Is(err, repositories.ErrNotFound) {
			s.client.ZRem(ctx, idx, raw)
			continue
		}
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}

type hashGetter interface {
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
}

func (s *CodeStore) get(ctx context.Context, c hashGetter, id uuid.UUID) (*models.VerificationCode, error) {
	fields, err := c.HGetAll(ctx, codeKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read verification code: %w", err)
	}
	if len(fields) == 0 {
		return nil, repositories.ErrNotFound
	}
	return decode(id, fields)
}

func decode(id uuid.UUID, fields map[string]string) (*models.VerificationCode, error) {
	expiry, err := strconv.ParseInt(fields["expiry"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt verification code %s: expiry: %w", id, err)
	}
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt verification code %s: created_at: %w", id, err)
	}
	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return nil, fmt.Errorf("corrupt verification code %s: attempts: %w", id, err)
	}
	return &models.VerificationCode{
		ID:         id,
		Email:      fields["email"],
		HashedCode: fields["hashed_code"],
		Purpose:    models.CodePurpose(fields["purpose"]),
		Expiry:     time.Unix(0, expiry).UTC(),
		Used:       fields["used"] == "1",
		Attempts:   attempts,
		CreatedAt:  time.Unix(0, created).UTC(),
	}, nil
}

// watch runs fn in an optimistic transaction on key, retrying on conflicts
func (s *CodeStore) watch(ctx context.Context, key string, fn func(tx *goredis.Tx) error) error {
	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return errContention
}

// MarkUsed flips used to true only while it is still false
func (s *CodeStore) MarkUsed(ctx context.Context, id uuid.UUID) error {
	key := codeKey(id)
	return s.watch(ctx, key, func(tx *goredis.Tx) error {
		used, err := tx.HGet(ctx, key, "used").Result()
		if errors.Is(err, goredis.Nil) || used == "1" {
			return repositories.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read verification code: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, "used", "1")
			return nil
		})
		return err
	})
}

// IncrementAttempts adds one to the attempt counter of an existing code
func (s *CodeStore) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	key := codeKey(id)
	return s.watch(ctx, key, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read verification code: %w", err)
		}
		if n == 0 {
			return repositories.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HIncrBy(ctx, key, "attempts", 1)
			return nil
		})
		return err
	})
}

// InvalidateActive retires every unused code and reports how many were still live
func (s *CodeStore) InvalidateActive(ctx context.Context, email string, purpose models.CodePurpose, now time.Time) (int, error) {
	codes, err := s.list(ctx, email, purpose)
	if err != nil {
		return 0, err
	}

	live := 0
	for _, c := range codes {
		if c.Used {
			continue
		}
		err := s.MarkUsed(ctx, c.ID)
		if errors.Is(err, repositories.ErrNotFound) {
			continue
		}
		if err != nil {
			return live, err
		}
		if !c.IsExpired(now) {
			live++
		}
	}
	return live, nil
}

// DeleteByEmailAndPurpose removes codes for email and purpose
func (s *CodeStore) DeleteByEmailAndPurpose(ctx context.Context, email string, purpose models.CodePurpose, onlyUsed bool) error {
	codes, err := s.list(ctx, email, purpose)
	if err != nil {
		return err
	}
	for _, c := range codes {
		if onlyUsed && !c.Used {
			continue
		}
		if err := s.remove(ctx, c.ID, email, purpose); err != nil {
			return err
		}
	}
	return nil
}

func (s *CodeStore) remove(ctx context.Context, id uuid.UUID, email string, purpose models.CodePurpose) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, codeKey(id))
		pipe.ZRem(ctx, indexKey(email, purpose), id.String())
		pipe.ZRem(ctx, expiryIndex, id.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete verification code: %w", err)
	}
	return nil
}

// Consume deletes the code only while it is still unused
func (s *CodeStore) Consume(ctx context.Context, id uuid.UUID) error {
	key := codeKey(id)
	return s.watch(ctx, key, func(tx *goredis.Tx) error {
		code, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if code.Used {
			return repositories.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, indexKey(code.Email, code.Purpose), id.String())
			pipe.ZRem(ctx, expiryIndex, id.String())
			return nil
		})
		return err
	})
}

// DeleteExpired removes codes whose expiry is before the cutoff
func (s *CodeStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, expiryIndex, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list expired codes: %w", err)
	}

	var n int64
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.client.ZRem(ctx, expiryIndex, raw)
			continue
		}
		code, err := s.get(ctx, s.client, id)
		if errors.Is(err, repositories.ErrNotFound) {
			// hash already gone through its TTL
			s.client.ZRem(ctx, expiryIndex, raw)
			n++
			continue
		}
		if err != nil {
			return n, err
		}
		if err := s.remove(ctx, id, code.Email, code.Purpose); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
