package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"accounts/internal/registration/models"
	id "accounts/pkg/domain"
	"accounts/pkg/platform/sentinel"
)

const maxDeadLetters = 1000

// Redis stores each run as a JSON string, indexes active runs in a sorted set
// scored by deadline, and keeps dead letters in a capped list.
type Redis struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewRedis(client redis.UniversalClient, keyPrefix string, retention time.Duration) *Redis {
	return &Redis{client: client, prefix: keyPrefix, retention: retention}
}

func (s *Redis) runKey(correlationID string) string { return s.prefix + "saga:run:" + correlationID }
func (s *Redis) deadlinesKey() string               { return s.prefix + "saga:deadlines" }
func (s *Redis) deadLettersKey() string             { return s.prefix + "saga:dead-letters" }

func (s *Redis) Get(ctx context.Context, correlationID id.CorrelationID) (*models.Run, error) {
	data, err := s.client.Get(ctx, s.runKey(correlationID.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get saga run: %w: %w", sentinel.ErrUnavailable, err)
	}
	var r models.Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode saga run: %w", err)
	}
	return &r, nil
}

// Save writes r if the stored state still equals expected, using WATCH so a
// concurrent writer aborts the transaction.
func (s *Redis) Save(ctx context.Context, r models.Run, expected models.State) error {
	corr := r.CorrelationID.String()
	key := s.runKey(corr)
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode saga run: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if expected != "" {
				return ErrStaleState
			}
		case err != nil:
			return err
		default:
			if expected == "" {
				return ErrStaleState
			}
			var stored models.Run
			if err := json.Unmarshal(current, &stored); err != nil {
				return fmt.Errorf("decode saga run: %w", err)
			}
			if stored.State != expected {
				return ErrStaleState
			}
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if r.IsTerminal() {
				p.Set(ctx, key, data, s.retention)
				p.ZRem(ctx, s.deadlinesKey(), corr)
				return nil
			}
			p.Set(ctx, key, data, 0)
			p.ZAdd(ctx, s.deadlinesKey(), redis.Z{Score: float64(r.Deadline.UnixMilli()), Member: corr})
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleState), errors.Is(err, redis.TxFailedErr):
		return ErrStaleState
	default:
		return fmt.Errorf("save saga run: %w: %w", sentinel.ErrUnavailable, err)
	}
}

// Expired returns active runs whose deadline is at or before now. Index entries
// whose run has vanished are pruned.
func (s *Redis) Expired(ctx context.Context, now time.Time, limit int) ([]models.Run, error) {
	members, err := s.client.ZRangeByScore(ctx, s.deadlinesKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired saga runs: %w: %w", sentinel.ErrUnavailable, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = s.runKey(m)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load expired saga runs: %w: %w", sentinel.ErrUnavailable, err)
	}

	var (
		runs  []models.Run
		stale []any
	)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, members[i])
			continue
		}
		var r models.Run
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode saga run: %w", err)
		}
		if r.IsTerminal() {
			stale = append(stale, members[i])
			continue
		}
		runs = append(runs, r)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.deadlinesKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune saga deadlines: %w: %w", sentinel.ErrUnavailable, err)
		}
	}
	return runs, nil
}

func (s *Redis) AddDeadLetter(ctx context.Context, dl models.DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, s.deadLettersKey(), data)
		p.LTrim(ctx, s.deadLettersKey(), 0, maxDeadLetters-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push dead letter: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

// DeadLetters returns the newest first.
func (s *Redis) DeadLetters(ctx context.Context) ([]models.DeadLetter, error) {
	raw, err := s.client.LRange(ctx, s.deadLettersKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w: %w", sentinel.ErrUnavailable, err)
	}
	out := make([]models.DeadLetter, 0, len(raw))
	for _, item := range raw {
		var dl models.DeadLetter
		if err := json.Unmarshal([]byte(item), &dl); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, nil
}
