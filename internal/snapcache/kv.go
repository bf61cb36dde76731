package snapcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/roach88/solmeal/internal/logging"
)

// KVConfig configures the JetStream key-value cache.
type KVConfig struct {
	Bucket   string
	Memory   bool // memory storage instead of file
	Replicas int

	// MaxRetries bounds bucket creation attempts. Zero means 3.
	MaxRetries int
}

// KV is a Cache on a NATS JetStream key-value bucket.
//
// Batches are pipelined: every write of a batch is published asynchronously
// to the bucket's subject and the batch completes when all acks arrive.
type KV struct {
	js     jetstream.JetStream
	kv     jetstream.KeyValue
	prefix string
	logger logging.Logger
}

var _ Cache = (*KV)(nil)

// NewKV opens (creating if needed) the bucket and returns the cache.
func NewKV(ctx context.Context, js jetstream.JetStream, cfg KVConfig, logger logging.Logger) (*KV, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("snapcache: bucket name required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	kv, err := openBucket(ctx, js, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &KV{
		js:     js,
		kv:     kv,
		prefix: "$KV." + cfg.Bucket + ".",
		logger: logger.With("bucket", cfg.Bucket),
	}, nil
}

// Apply implements Cache.
func (c *KV) Apply(ctx context.Context, ops []Op) error {
	futures := make([]jetstream.PubAckFuture, 0, len(ops))
	for _, op := range ops {
		f, err := c.js.PublishAsync(c.prefix+op.Key, op.Value)
		if err != nil {
			return fmt.Errorf("publish %s: %w", op.Key, err)
		}
		futures = append(futures, f)
	}

	for i, f := range futures {
		select {
		case <-f.Ok():
		case err := <-f.Err():
			return fmt.Errorf("ack %s: %w", ops[i].Key, err)
		case <-ctx.Done():
			return fmt.Errorf("await acks (%d of %d): %w", i, len(futures), ctx.Err())
		}
	}
	c.logger.Debug("batch applied", "ops", len(ops))
	return nil
}

// SetActive implements Cache.
func (c *KV) SetActive(ctx context.Context, campusID, runID int64) error {
	if _, err := c.kv.Put(ctx, ActiveKey(campusID), encodePointer(runID)); err != nil {
		return fmt.Errorf("set active campus %d: %w", campusID, err)
	}
	return nil
}

// ActiveRun implements Cache.
func (c *KV) ActiveRun(ctx context.Context, campusID int64) (int64, error) {
	v, err := c.get(ctx, ActiveKey(campusID))
	if err != nil {
		return 0, err
	}
	return decodePointer(v)
}

// ClusterOf implements Cache.
func (c *KV) ClusterOf(ctx context.Context, runID, userID int64) (int, error) {
	v, err := c.get(ctx, UserKey(runID, userID))
	if err != nil {
		return 0, err
	}
	return decodeSeq(v)
}

// Members implements Cache. It replays the cluster's keys through a watcher
// and stops at the end-of-replay marker.
func (c *KV) Members(ctx context.Context, runID int64, seq int) ([]Member, error) {
	prefix := MemberPrefix(runID, seq)
	w, err := c.kv.Watch(ctx, prefix+"*", jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", prefix, err)
	}
	defer func() {
		if err := w.Stop(); err != nil {
			c.logger.Warn("failed to stop watcher", "error", err)
		}
	}()

	out := []Member{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-w.Updates():
			if !ok {
				return nil, fmt.Errorf("watch %s: updates closed", prefix)
			}
			if entry == nil {
				SortMembers(out)
				return out, nil
			}
			m, err := memberFromKey(prefix, entry.Key(), entry.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
	}
}

func (c *KV) get(ctx context.Context, key string) ([]byte, error) {
	entry, err := c.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return entry.Value(), nil
}
