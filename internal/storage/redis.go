package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	logx "freshen/pkg/logx"
)

// redisStore keeps records as JSON documents in a hash keyed by task
// id, plus a sorted set indexing ids by their next-due time (unix
// milliseconds) so due queries avoid a full scan.
type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "freshen"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &redisStore{client: client, prefix: prefix, log: log}, nil
}

func (s *redisStore) hashKey() string { return s.prefix + ":tasks" }
func (s *redisStore) dueKey() string  { return s.prefix + ":tasks:due" }

func (s *redisStore) Close() error { return s.client.Close() }

func (s *redisStore) Insert(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(encodeDoc(rec))
	if err != nil {
		return err
	}
	ok, err := s.client.HSetNX(ctx, s.hashKey(), rec.ID, raw).Result()
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if !ok {
		return ErrExists
	}
	return s.client.ZAdd(ctx, s.dueKey(), redis.Z{
		Score:  float64(rec.Next.UnixMilli()),
		Member: rec.ID,
	}).Err()
}

func (s *redisStore) Find(ctx context.Context, f Filter) ([]Record, error) {
	docs, err := s.loadCandidates(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(docs))
	for _, d := range docs {
		rec := d.decode()
		if f.matches(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *redisStore) FindOne(ctx context.Context, f Filter) (Record, error) {
	recs, err := s.Find(ctx, f)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[0], nil
}

func (s *redisStore) Update(ctx context.Context, f Filter, p Patch, opts UpdateOptions) (int, error) {
	recs, err := s.Find(ctx, f)
	if err != nil {
		return 0, err
	}

	if len(recs) == 0 && opts.Upsert {
		if f.ID == "" {
			return 0, errors.New("upsert requires an id filter")
		}
		rec := Record{ID: f.ID}
		p.Apply(&rec)
		recs = []Record{rec}
	} else {
		for i := range recs {
			p.Apply(&recs[i])
		}
	}
	if len(recs) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, rec := range recs {
		raw, err := json.Marshal(encodeDoc(rec))
		if err != nil {
			return 0, err
		}
		pipe.HSet(ctx, s.hashKey(), rec.ID, raw)
		pipe.ZAdd(ctx, s.dueKey(), redis.Z{
			Score:  float64(rec.Next.UnixMilli()),
			Member: rec.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("write tasks: %w", err)
	}
	return len(recs), nil
}

// loadCandidates narrows by id or by the due-time index when the
// filter allows it; remaining conditions are checked in memory.
func (s *redisStore) loadCandidates(ctx context.Context, f Filter) ([]recordDoc, error) {
	if f.ID != "" {
		raw, err := s.client.HGet(ctx, s.hashKey(), f.ID).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load task: %w", err)
		}
		var d recordDoc
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", f.ID, err)
		}
		return []recordDoc{d}, nil
	}

	if !f.NextBefore.IsZero() {
		// "(" makes the bound exclusive: next strictly before the cutoff.
		max := "(" + strconv.FormatInt(f.NextBefore.UnixMilli(), 10)
		ids, err := s.client.ZRangeByScore(ctx, s.dueKey(), &redis.ZRangeBy{
			Min: "-inf",
			Max: max,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("range due tasks: %w", err)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		rawVals, err := s.client.HMGet(ctx, s.hashKey(), ids...).Result()
		if err != nil {
			return nil, fmt.Errorf("load due tasks: %w", err)
		}
		docs := make([]recordDoc, 0, len(rawVals))
		for _, v := range rawVals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var d recordDoc
			if err := json.Unmarshal([]byte(str), &d); err != nil {
				continue
			}
			docs = append(docs, d)
		}
		return docs, nil
	}

	all, err := s.client.HGetAll(ctx, s.hashKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	docs := make([]recordDoc, 0, len(all))
	for _, raw := range all {
		var d recordDoc
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			continue
		}
		docs = append(docs, d)
	}
	return docs, nil
}
