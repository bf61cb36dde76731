package snapcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/roach88/solmeal/internal/logging"
)

const (
	defaultBucketAttempts = 3
	bucketRetryBase       = 25 * time.Millisecond
)

// bucketRetryDelay is the wait before attempt n+1; it doubles per attempt.
func bucketRetryDelay(attempt int) time.Duration {
	return bucketRetryBase << min(attempt, 6)
}

func bucketConfig(cfg KVConfig) jetstream.KeyValueConfig {
	storage := jetstream.FileStorage
	if cfg.Memory {
		storage = jetstream.MemoryStorage
	}
	return jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "solmeal cluster snapshots",
		History:     1,
		Storage:     storage,
		Replicas:    max(1, cfg.Replicas),
	}
}

// openBucket creates the snapshot bucket, or binds to it when another
// process got there first. Transient failures are retried up to
// cfg.MaxRetries times.
func openBucket(ctx context.Context, js jetstream.JetStream, cfg KVConfig, logger logging.Logger) (jetstream.KeyValue, error) {
	attempts := cfg.MaxRetries
	if attempts <= 0 {
		attempts = defaultBucketAttempts
	}
	kvCfg := bucketConfig(cfg)

	var err error
	for attempt := range attempts {
		var kv jetstream.KeyValue
		kv, err = js.CreateKeyValue(ctx, kvCfg)
		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, err = js.KeyValue(ctx, kvCfg.Bucket)
		}
		if err == nil {
			return kv, nil
		}
		if attempt == attempts-1 {
			break
		}

		delay := bucketRetryDelay(attempt)
		logger.Warn("snapshot bucket unavailable, retrying",
			"attempt", attempt+1, "delay", delay, "error", err)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("open bucket %s: %w", kvCfg.Bucket, ctx.Err())
		}
	}
	return nil, fmt.Errorf("open bucket %s (%d attempts): %w", kvCfg.Bucket, attempts, err)
}
