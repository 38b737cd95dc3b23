package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	historyKey = "fxengine:dataset_history"
	presetsKey = "fxengine:presets"

	maxTxRetries = 3
)

// RedisStore keeps each record list as one JSON string key. Read-modify-write
// updates run under WATCH so concurrent writers do not lose each other's
// changes. All calls go through a Breaker.
type RedisStore struct {
	rdb     *goredis.Client
	breaker *Breaker
	now     func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps rdb. A nil breaker gets a default one.
func NewRedisStore(rdb *goredis.Client, breaker *Breaker) *RedisStore {
	if breaker == nil {
		breaker = NewBreaker(5, 10*time.Second)
		breaker.OnStateChange = func(from, to BreakerState) {
			slog.Warn("prefs redis breaker", "from", from.String(), "to", to.String())
		}
	}
	return &RedisStore{rdb: rdb, breaker: breaker, now: time.Now}
}

func (r *RedisStore) Backend() string { return "redis" }

func (r *RedisStore) History(ctx context.Context) ([]HistoryEntry, error) {
	var h []HistoryEntry
	err := r.get(ctx, historyKey, &h)
	return nonNil(h), err
}

func (r *RedisStore) RecordHistory(ctx context.Context, path string) ([]HistoryEntry, error) {
	if err := validPath(path); err != nil {
		return nil, err
	}
	var out []HistoryEntry
	err := r.update(ctx, historyKey, func(cur []byte) (any, error) {
		var h []HistoryEntry
		if err := decode(historyKey, cur, &h); err != nil {
			return nil, err
		}
		out = touch(h, path, r.now())
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RedisStore) Presets(ctx context.Context) ([]Preset, error) {
	var ps []Preset
	err := r.get(ctx, presetsKey, &ps)
	return nonNil(ps), err
}

func (r *RedisStore) SavePreset(ctx context.Context, p Preset) error {
	if err := validPreset(p); err != nil {
		return err
	}
	return r.update(ctx, presetsKey, func(cur []byte) (any, error) {
		var ps []Preset
		if err := decode(presetsKey, cur, &ps); err != nil {
			return nil, err
		}
		return upsert(ps, p), nil
	})
}

func (r *RedisStore) LoadPreset(ctx context.Context, name string) (Preset, error) {
	var ps []Preset
	if err := r.get(ctx, presetsKey, &ps); err != nil {
		return Preset{}, err
	}
	return findPreset(ps, name)
}

func (r *RedisStore) DeletePreset(ctx context.Context, name string) (bool, error) {
	removed := false
	err := r.update(ctx, presetsKey, func(cur []byte) (any, error) {
		removed = false
		var ps []Preset
		if err := decode(presetsKey, cur, &ps); err != nil {
			return nil, err
		}
		kept := removePreset(ps, name)
		if len(kept) == len(ps) {
			return nil, nil
		}
		removed = true
		return kept, nil
	})
	return removed, err
}

func (r *RedisStore) get(ctx context.Context, key string, v any) error {
	var data []byte
	err := r.breaker.Do(func() error {
		b, err := r.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		data = b
		return err
	})
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	return decode(key, data, v)
}

// update applies fn to the current value of key and stores its result. A nil
// result leaves the key unchanged. Errors from fn are not backend failures
// and do not count against the breaker.
func (r *RedisStore) update(ctx context.Context, key string, fn func(cur []byte) (any, error)) error {
	var fnErr error
	txf := func(tx *goredis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			fnErr = err
			return nil
		}
		if next == nil {
			return nil
		}
		data, err := json.Marshal(next)
		if err != nil {
			fnErr = fmt.Errorf("encode %s: %w", key, err)
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, key, string(data), 0)
			return nil
		})
		return err
	}

	err := r.retryTx(func() error { return r.rdb.Watch(ctx, txf, key) })
	if err != nil {
		return fmt.Errorf("redis update %s: %w", key, err)
	}
	return fnErr
}

// retryTx runs watch through the breaker, retrying optimistic-lock
// failures. A conflict that outlasts the retries means the backend answered,
// so it returns ErrConflict without counting against the breaker.
func (r *RedisStore) retryTx(watch func() error) error {
	conflict := false
	err := r.breaker.Do(func() error {
		for i := 0; i < maxTxRetries; i++ {
			err := watch()
			if !errors.Is(err, goredis.TxFailedErr) {
				return err
			}
		}
		conflict = true
		return nil
	})
	if err != nil {
		return err
	}
	if conflict {
		return ErrConflict
	}
	return nil
}

func decode(key string, data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
