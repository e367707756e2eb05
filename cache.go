package bugtrack

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// CacheConfig sizes the decision cache.
type CacheConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	TTL         time.Duration
}

// DefaultCacheConfig suits a few hundred thousand distinct decision keys.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{NumCounters: 1e6, MaxCost: 1 << 20, BufferItems: 64, TTL: time.Minute}
}

// decisionCache memoizes decisions keyed by roles, action, entity type and the
// guard facts, so an entry is exactly what a fresh evaluation would return.
type decisionCache struct {
	c   *ristretto.Cache
	ttl time.Duration
}

func newDecisionCache(cfg CacheConfig) (*decisionCache, error) {
	def := DefaultCacheConfig()
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = def.NumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = def.MaxCost
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = def.BufferItems
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("decision cache: %w", err)
	}
	return &decisionCache{c: c, ttl: cfg.TTL}, nil
}

func (d *decisionCache) get(key string) (Decision, bool) {
	v, ok := d.c.Get(key)
	if !ok {
		return Decision{}, false
	}
	dec, ok := v.(Decision)
	return dec, ok
}

func (d *decisionCache) set(key string, dec Decision) {
	dec.Trace = nil
	if d.ttl > 0 {
		d.c.SetWithTTL(key, dec, 1, d.ttl)
		return
	}
	d.c.Set(key, dec, 1)
}

func (d *decisionCache) wait()  { d.c.Wait() }
func (d *decisionCache) clear() { d.c.Clear() }
func (d *decisionCache) close() { d.c.Close() }
