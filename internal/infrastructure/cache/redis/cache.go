// Package redis caches finished research answers keyed by request
// fingerprint.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

const keyPrefix = "research:answer:"

type Config struct {
	Addr     string
	Password string
	DB       int
	// TTL applies to answers with sources, EmptyTTL to answers without.
	TTL      time.Duration
	EmptyTTL time.Duration

	// ComputeTimeout bounds a shared computation once it no longer follows
	// the context of the caller that started it.
	ComputeTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		TTL:            time.Hour,
		EmptyTTL:       5 * time.Minute,
		ComputeTimeout: 5 * time.Minute,
	}
}

// AnswerCache reads through redis and collapses concurrent computations of
// the same key. Redis failures degrade to a miss.
type AnswerCache struct {
	client *goredis.Client
	cfg    Config
	group  singleflight.Group
	logger *zap.Logger
}

func New(ctx context.Context, cfg Config, logger *zap.Logger) (*AnswerCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewWithClient(client, cfg, logger), nil
}

func NewWithClient(client *goredis.Client, cfg Config, logger *zap.Logger) *AnswerCache {
	defaults := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.EmptyTTL <= 0 {
		cfg.EmptyTTL = defaults.EmptyTTL
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = defaults.ComputeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnswerCache{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "answer_cache")),
	}
}

// Do returns the stored answer for key, or runs compute once across all
// concurrent callers and stores a successful result. cached reports whether
// the answer came from redis. The computation outlives the caller that
// started it; each caller stops waiting when its own ctx is done.
func (c *AnswerCache) Do(
	ctx context.Context,
	key string,
	compute func(context.Context) (domain.ResearchAnswer, error),
) (domain.ResearchAnswer, bool, error) {
	if answer, ok := c.get(ctx, key); ok {
		return answer, true, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ComputeTimeout)
		defer cancel()

		answer, err := compute(shared)
		if err != nil {
			return domain.ResearchAnswer{}, err
		}
		c.set(shared, key, answer)
		return answer, nil
	})

	select {
	case <-ctx.Done():
		return domain.ResearchAnswer{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.ResearchAnswer{}, false, res.Err
		}
		return res.Val.(domain.ResearchAnswer), false, nil
	}
}

func (c *AnswerCache) Close() error {
	return c.client.Close()
}

func (c *AnswerCache) get(ctx context.Context, key string) (domain.ResearchAnswer, bool) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.logger.Warn("answer_cache_read_failed", zap.String("key", key), zap.Error(err))
		}
		return domain.ResearchAnswer{}, false
	}

	var answer domain.ResearchAnswer
	if err := json.Unmarshal(raw, &answer); err != nil {
		c.logger.Warn("answer_cache_decode_failed", zap.String("key", key), zap.Error(err))
		return domain.ResearchAnswer{}, false
	}
	return answer, true
}

func (c *AnswerCache) set(ctx context.Context, key string, answer domain.ResearchAnswer) {
	ttl := c.cfg.TTL
	if len(answer.Sources) == 0 {
		ttl = c.cfg.EmptyTTL
	}
	stored := answer
	stored.Cached = false
	payload, err := json.Marshal(stored)
	if err != nil {
		c.logger.Warn("answer_cache_encode_failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, keyPrefix+key, payload, ttl).Err(); err != nil {
		c.logger.Warn("answer_cache_write_failed", zap.String("key", key), zap.Error(err))
	}
}
