package data

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"CareFlow/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RecordStore is a Redis-backed stand-in for the external client record
// store. Each record is a JSON document; every module keeps an id set.
type RecordStore struct {
	rdb    *redis.Client
	cache  CacheClient
	logger *log.Helper
}

// NewRecordStore creates a record store.
func NewRecordStore(d *Data, logger log.Logger) *RecordStore {
	return &RecordStore{
		rdb:    d.GetRedisClient(),
		cache:  d.GetCache(),
		logger: log.NewHelper(log.With(logger, "module", "data/record")),
	}
}

func recordKey(module, id string) string {
	return BuildCacheKey(CacheKeyRecord, module, id)
}

func recordIndexKey(module string) string {
	return BuildCacheKey(CacheKeyRecordIndex, module)
}

// Create stores a new record in module and returns its id.
func (s *RecordStore) Create(ctx context.Context, module string, fields map[string]any) (string, error) {
	if module == "" {
		return "", fmt.Errorf("record module is required")
	}
	if s.rdb == nil {
		return "", errNilRedis
	}

	rec := &model.Record{
		ID:     uuid.NewString(),
		Module: module,
		Fields: maps.Clone(fields),
		Tags:   []string{},
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	rec.Fields["Created_Time"] = time.Now().UTC().Format(time.RFC3339)

	if err := s.cache.Set(ctx, recordKey(module, rec.ID), rec, TTLRecord); err != nil {
		return "", err
	}
	if err := s.rdb.SAdd(ctx, recordIndexKey(module), rec.ID).Err(); err != nil {
		return "", fmt.Errorf("failed to index record %s/%s: %w", module, rec.ID, err)
	}
	s.logger.Debugw("msg", "record created", "module", module, "id", rec.ID)
	return rec.ID, nil
}

// Get returns the record, or nil when it does not exist.
func (s *RecordStore) Get(ctx context.Context, module, id string) (*model.Record, error) {
	var rec model.Record
	if err := s.cache.Get(ctx, recordKey(module, id), &rec); err != nil {
		if errors.Is(err, ErrCacheNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Update merges fields into the record. It reports false when the record
// does not exist.
func (s *RecordStore) Update(ctx context.Context, module, id string, fields map[string]any) (bool, error) {
	return s.mutate(ctx, module, id, func(rec *model.Record) {
		maps.Copy(rec.Fields, fields)
		rec.Fields["Modified_Time"] = time.Now().UTC().Format(time.RFC3339)
	})
}

// AddTags adds tags that are not on the record yet.
func (s *RecordStore) AddTags(ctx context.Context, module, id string, tags []string) (bool, error) {
	return s.mutate(ctx, module, id, func(rec *model.Record) {
		for _, t := range tags {
			if t != "" && !slices.Contains(rec.Tags, t) {
				rec.Tags = append(rec.Tags, t)
			}
		}
	})
}

// mutate applies fn under an optimistic WATCH transaction so concurrent
// actions of one phase never lose each other's writes.
func (s *RecordStore) mutate(ctx context.Context, module, id string, fn func(*model.Record)) (bool, error) {
	if s.rdb == nil {
		return false, errNilRedis
	}
	key := recordKey(module, id)

	const maxRetries = 10
	for i := 0; i < maxRetries; i++ {
		found := true
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				found = false
				return nil
			}
			if err != nil {
				return err
			}
			var rec model.Record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("failed to decode record %s/%s: %w", module, id, err)
			}
			if rec.Fields == nil {
				rec.Fields = map[string]any{}
			}
			fn(&rec)
			payload, err := json.Marshal(&rec)
			if err != nil {
				return fmt.Errorf("failed to encode record %s/%s: %w", module, id, err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, TTLRecord)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return found, nil
		case errors.Is(err, redis.TxFailedErr):
			time.Sleep(time.Duration(i+1) * 5 * time.Millisecond)
		default:
			return false, err
		}
	}
	return false, fmt.Errorf("record %s/%s: too many concurrent writers: %w", module, id, redis.TxFailedErr)
}

// Search returns records of module whose fields equal every criterion.
func (s *RecordStore) Search(ctx context.Context, module string, criteria map[string]any) ([]*model.Record, error) {
	if s.rdb == nil {
		return nil, errNilRedis
	}
	ids, err := s.rdb.SMembers(ctx, recordIndexKey(module)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list module %s: %w", module, err)
	}
	slices.Sort(ids)

	want := make(map[string][]byte, len(criteria))
	for k, v := range criteria {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("criterion %s: %w", k, err)
		}
		want[k] = raw
	}

	var out []*model.Record
	for _, id := range ids {
		rec, err := s.Get(ctx, module, id)
		if err != nil {
			return nil, err
		}
		if rec != nil && fieldsMatch(rec.Fields, want) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// fieldsMatch compares JSON encodings so 3 and 3.0 are equal after a round trip.
func fieldsMatch(fields map[string]any, want map[string][]byte) bool {
	for k, raw := range want {
		v, ok := fields[k]
		if !ok {
			return false
		}
		got, err := json.Marshal(v)
		if err != nil || !bytes.Equal(got, raw) {
			return false
		}
	}
	return true
}
