package ratelimit

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"obsidian/internal/config"
)

// Limiter names used by the HTTP layer
const (
	Redeem    = "redeem"
	HWIDReset = "hwid-reset"
	Telemetry = "telemetry"
	Sync      = "sync"
)

// Registry holds the limiters configured at startup
type Registry struct {
	limiters map[string]*Limiter
}

// NewRegistry builds the named limiters from config. Telemetry uses the
// sorted-set strategy since its callers are also tracked for reporting.
func NewRegistry(rdb redis.Cmdable, cfg config.LimitsConfig, opts ...Option) (*Registry, error) {
	specs := []Config{
		{Name: Redeem, Max: cfg.Redeem.Max, Window: cfg.Redeem.Window, Strategy: StrategyCounter},
		{Name: HWIDReset, Max: cfg.HWIDReset.Max, Window: cfg.HWIDReset.Window, Strategy: StrategyCounter},
		{Name: Telemetry, Max: cfg.Telemetry.Max, Window: cfg.Telemetry.Window, Strategy: StrategySortedSet},
		{Name: Sync, Max: cfg.Sync.Max, Window: cfg.Sync.Window, Strategy: StrategyCounter},
	}

	r := &Registry{limiters: make(map[string]*Limiter, len(specs))}
	for _, spec := range specs {
		l, err := New(rdb, spec, opts...)
		if err != nil {
			return nil, err
		}
		r.limiters[spec.Name] = l
	}
	return r, nil
}

// Get returns the named limiter
func (r *Registry) Get(name string) (*Limiter, error) {
	l, ok := r.limiters[name]
	if !ok {
		return nil, fmt.Errorf("unknown limiter %q", name)
	}
	return l, nil
}

// MustGet returns the named limiter and panics when it is not registered
func (r *Registry) MustGet(name string) *Limiter {
	l, err := r.Get(name)
	if err != nil {
		panic(err)
	}
	return l
}
