package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// CacheConfig tunes the Redis bar cache.
type CacheConfig struct {
	Addr     string        `yaml:"addr" json:"addr"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	BarTTL   time.Duration `yaml:"bar_ttl" json:"bar_ttl"`
	PriceTTL time.Duration `yaml:"price_ttl" json:"price_ttl"`
}

// DefaultCacheConfig returns the stock cache settings.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Addr:     "localhost:6379",
		BarTTL:   5 * time.Minute,
		PriceTTL: 5 * time.Second,
	}
}

// CachedFeed fronts a PriceFeed with a Redis cache. Cache failures fall
// through to the inner feed: a dead Redis degrades latency, not trading.
type CachedFeed struct {
	inner    PriceFeed
	client   *redis.Client
	barTTL   time.Duration
	priceTTL time.Duration
}

// NewCachedFeed wraps feed with a Redis cache at cfg.Addr.
func NewCachedFeed(cfg CacheConfig, feed PriceFeed) *CachedFeed {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return newCachedFeed(cfg, feed, client)
}

func newCachedFeed(cfg CacheConfig, feed PriceFeed, client *redis.Client) *CachedFeed {
	def := DefaultCacheConfig()
	if cfg.BarTTL <= 0 {
		cfg.BarTTL = def.BarTTL
	}
	if cfg.PriceTTL <= 0 {
		cfg.PriceTTL = def.PriceTTL
	}
	return &CachedFeed{
		inner:    feed,
		client:   client,
		barTTL:   cfg.BarTTL,
		priceTTL: cfg.PriceTTL,
	}
}

// CurrentPrice implements PriceFeed with a short-TTL cache entry per symbol.
func (c *CachedFeed) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	key := "papertrade:price:" + symbol

	if raw, err := c.client.Get(ctx, key).Result(); err == nil {
		var price float64
		if err := json.Unmarshal([]byte(raw), &price); err == nil {
			return price, nil
		}
	} else if err != redis.Nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("price cache read failed")
	}

	price, err := c.inner.CurrentPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}

	if raw, err := json.Marshal(price); err == nil {
		if err := c.client.Set(ctx, key, raw, c.priceTTL).Err(); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("price cache write failed")
		}
	}
	return price, nil
}

// HistoricalBars implements PriceFeed, caching whole windows keyed by
// symbol, period, and interval.
func (c *CachedFeed) HistoricalBars(ctx context.Context, symbol, period, interval string) ([]Bar, error) {
	key := fmt.Sprintf("papertrade:bars:%s:%s:%s", symbol, period, interval)

	if raw, err := c.client.Get(ctx, key).Result(); err == nil {
		var bars []Bar
		if err := json.Unmarshal([]byte(raw), &bars); err == nil {
			return bars, nil
		}
		log.Warn().Str("key", key).Msg("discarding corrupt cached bars")
	} else if err != redis.Nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("bar cache read failed")
	}

	bars, err := c.inner.HistoricalBars(ctx, symbol, period, interval)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(bars); err == nil {
		if err := c.client.Set(ctx, key, raw, c.barTTL).Err(); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("bar cache write failed")
		}
	}
	return bars, nil
}

// Close releases the Redis connection.
func (c *CachedFeed) Close() error { return c.client.Close() }
