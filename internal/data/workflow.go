package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"CareFlow/internal/conf"
	"CareFlow/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// ErrStaleWorkflow is returned by Save when the stored instance is already at
// the same or a newer version.
var ErrStaleWorkflow = errors.New("workflow instance is stale")

const defaultWorkflowCacheSize = 1024

// WorkflowRepo stores workflow instances as JSON documents in Redis with a
// read-through LRU in front.
type WorkflowRepo struct {
	rdb    *redis.Client
	cache  CacheClient
	lru    *lru.Cache[string, *model.WorkflowInstance]
	logger *log.Helper
}

// NewWorkflowRepo creates a workflow repository.
func NewWorkflowRepo(c *conf.Workflow, d *Data, logger log.Logger) (*WorkflowRepo, error) {
	size := defaultWorkflowCacheSize
	if c != nil && c.CacheSize > 0 {
		size = c.CacheSize
	}
	l, err := lru.New[string, *model.WorkflowInstance](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow cache: %w", err)
	}
	return &WorkflowRepo{
		rdb:    d.GetRedisClient(),
		cache:  d.GetCache(),
		lru:    l,
		logger: log.NewHelper(log.With(logger, "module", "data/workflow")),
	}, nil
}

func workflowKey(clientID string) string {
	return BuildCacheKey(CacheKeyWorkflow, clientID)
}

// Get returns a copy of the client's instance, or nil when there is none.
func (r *WorkflowRepo) Get(ctx context.Context, clientID string) (*model.WorkflowInstance, error) {
	if inst, ok := r.lru.Get(clientID); ok {
		return inst.Clone(), nil
	}

	var inst model.WorkflowInstance
	if err := r.cache.Get(ctx, workflowKey(clientID), &inst); err != nil {
		if errors.Is(err, ErrCacheNotFound) {
			return nil, nil
		}
		return nil, err
	}
	r.lru.Add(clientID, inst.Clone())
	return &inst, nil
}

// Create stores inst unless the client already has an instance.
func (r *WorkflowRepo) Create(ctx context.Context, inst *model.WorkflowInstance) (bool, error) {
	ok, err := r.cache.SetNX(ctx, workflowKey(inst.ClientID), inst, TTLWorkflow)
	if err != nil {
		return false, err
	}
	if ok {
		r.lru.Add(inst.ClientID, inst.Clone())
	}
	return ok, nil
}

// Save writes inst when its version is newer than the stored one. Version
// conflicts from concurrent writers are retried a few times before giving up.
func (r *WorkflowRepo) Save(ctx context.Context, inst *model.WorkflowInstance) error {
	if r.rdb == nil {
		return errNilRedis
	}
	key := workflowKey(inst.ClientID)
	payload, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to encode workflow %s: %w", inst.ClientID, err)
	}

	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				var stored model.WorkflowInstance
				if err := json.Unmarshal(raw, &stored); err != nil {
					return fmt.Errorf("failed to decode stored workflow: %w", err)
				}
				if stored.Version >= inst.Version {
					return fmt.Errorf("%w: stored version %d, saving %d", ErrStaleWorkflow, stored.Version, inst.Version)
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, TTLWorkflow)
				if inst.AutoAdvanceAt != nil && !inst.Completed {
					pipe.ZAdd(ctx, CacheKeyWorkflowDue, redis.Z{Score: float64(inst.AutoAdvanceAt.UnixMilli()), Member: inst.ClientID})
				} else {
					pipe.ZRem(ctx, CacheKeyWorkflowDue, inst.ClientID)
				}
				return nil
			})
			return err
		}, key)

		if err == nil {
			r.lru.Add(inst.ClientID, inst.Clone())
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			r.lru.Remove(inst.ClientID)
			return fmt.Errorf("failed to save workflow %s: %w", inst.ClientID, err)
		}

		backoff := time.Duration(i+1) * 10 * time.Millisecond
		r.logger.Debugw("msg", "workflow version conflict, retrying", "client_id", inst.ClientID, "retry", i+1, "backoff", backoff)
		time.Sleep(backoff)
	}
	r.lru.Remove(inst.ClientID)
	return fmt.Errorf("failed to save workflow %s after %d retries: %w", inst.ClientID, maxRetries, redis.TxFailedErr)
}

// PendingAdvances returns every instance with a scheduled auto-advance,
// soonest first. Index entries whose instance no longer has one are pruned.
func (r *WorkflowRepo) PendingAdvances(ctx context.Context) ([]*model.WorkflowInstance, error) {
	if r.rdb == nil {
		return nil, errNilRedis
	}
	clientIDs, err := r.rdb.ZRange(ctx, CacheKeyWorkflowDue, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pending auto-advances: %w", err)
	}

	out := make([]*model.WorkflowInstance, 0, len(clientIDs))
	for _, clientID := range clientIDs {
		inst, err := r.Get(ctx, clientID)
		if err != nil {
			return nil, err
		}
		if inst == nil || inst.AutoAdvanceAt == nil || inst.Completed {
			r.rdb.ZRem(ctx, CacheKeyWorkflowDue, clientID)
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}
