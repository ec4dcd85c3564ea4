// Package results persists generated report tables in Redis, grouped by the
// identity that owns them.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mohans/reportq/report"
)

const purgeAttempts = 5

func resultKey(id string) string         { return "report:result:" + id }
func identityKey(identity string) string { return "report:results:" + identity }

// ErrResultNotFound is returned for unknown result ids.
var ErrResultNotFound = errors.New("result not found")

// Stored is a persisted result.
type Stored struct {
	Ref   report.ResultRef `json:"ref"`
	Table *report.Table    `json:"table"`
}

// RedisStore implements report.ResultStore.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore returns a store on client. A zero ttl keeps results forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

// BuildCreateResults stores table under a new result id and appends it to
// the result list of the identity in opts' userid.
func (s *RedisStore) BuildCreateResults(ctx context.Context, r report.Report, table *report.Table, opts report.Options, taskID string) (report.ResultRef, error) {
	ref := report.ResultRef{
		ID:         uuid.NewString(),
		ReportID:   r.ID,
		ReportName: r.Name,
		TaskID:     taskID,
		Identity:   opts.UserID(),
		Source:     opts.String(report.KeyReportSource),
		CreatedAt:  time.Now().UTC(),
	}
	if table != nil {
		ref.Rows = len(table.Rows)
	}
	data, err := json.Marshal(Stored{Ref: ref, Table: table})
	if err != nil {
		return report.ResultRef{}, fmt.Errorf("marshal result: %w", err)
	}

	idKey := identityKey(ref.Identity)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, resultKey(ref.ID), data, s.ttl)
		p.RPush(ctx, idKey, ref.ID)
		if s.ttl > 0 {
			p.Expire(ctx, idKey, s.ttl)
		}
		return nil
	})
	if err != nil {
		return report.ResultRef{}, fmt.Errorf("redis store result for %s: %w", ref.Identity, err)
	}
	return ref, nil
}

// PurgeForIdentity deletes every result owned by identity. The list is
// watched so a concurrent write for the same identity restarts the purge.
func (s *RedisStore) PurgeForIdentity(ctx context.Context, identity string) error {
	idKey := identityKey(identity)
	purge := func(tx *redis.Tx) error {
		ids, err := tx.LRange(ctx, idKey, 0, -1).Result()
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(ids)+1)
		for _, id := range ids {
			keys = append(keys, resultKey(id))
		}
		keys = append(keys, idKey)
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, keys...)
			return nil
		})
		return err
	}
	for i := 0; i < purgeAttempts; i++ {
		err := s.client.Watch(ctx, purge, idKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis purge results for %s: %w", identity, err)
		}
		return nil
	}
	return fmt.Errorf("redis purge results for %s: %w", identity, redis.TxFailedErr)
}

// Get returns one stored result.
func (s *RedisStore) Get(ctx context.Context, id string) (*Stored, error) {
	data, err := s.client.Get(ctx, resultKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("result %s: %w", id, ErrResultNotFound)
		}
		return nil, fmt.Errorf("redis get result %s: %w", id, err)
	}
	var st Stored
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal result %s: %w", id, err)
	}
	return &st, nil
}

// List returns the references owned by identity, oldest first. Expired
// results are skipped.
func (s *RedisStore) List(ctx context.Context, identity string) ([]report.ResultRef, error) {
	ids, err := s.client.LRange(ctx, identityKey(identity), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list results for %s: %w", identity, err)
	}
	refs := make([]report.ResultRef, 0, len(ids))
	for _, id := range ids {
		st, err := s.Get(ctx, id)
		if errors.Is(err, ErrResultNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		refs = append(refs, st.Ref)
	}
	return refs, nil
}
