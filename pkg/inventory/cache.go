package inventory

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/newtron-network/eapitest/pkg/cache"
)

// CacheSpec selects the reply cache shared by all devices of a run.
type CacheSpec struct {
	Backend     string        `yaml:"backend"` // memory or redis
	TTL         time.Duration `yaml:"ttl,omitempty"`
	Addr        string        `yaml:"addr,omitempty"`
	DB          int           `yaml:"db,omitempty"`
	PasswordEnv string        `yaml:"password_env,omitempty"`
	Prefix      string        `yaml:"prefix,omitempty"`
}

func (c *CacheSpec) validate() error {
	switch c.Backend {
	case "memory":
	case "redis":
		if c.Addr == "" {
			return fmt.Errorf("redis backend requires addr")
		}
	default:
		return fmt.Errorf("backend must be memory or redis, got %q", c.Backend)
	}
	if c.TTL < 0 {
		return fmt.Errorf("ttl must not be negative")
	}
	return nil
}

// NewCache builds the reply cache described by the defaults block. It
// returns a nil cache when none is configured. The returned close function
// is never nil.
func (inv *Inventory) NewCache(ctx context.Context) (cache.Cache, time.Duration, func() error, error) {
	noop := func() error { return nil }
	spec := inv.Defaults.Cache
	if spec == nil {
		return nil, 0, noop, nil
	}

	switch spec.Backend {
	case "redis":
		rc := cache.NewRedisCache(cache.RedisOptions{
			Addr:     spec.Addr,
			Password: os.Getenv(spec.PasswordEnv),
			DB:       spec.DB,
			Prefix:   spec.Prefix,
		})
		if err := rc.Ping(ctx); err != nil {
			rc.Close()
			return nil, 0, noop, err
		}
		return rc, spec.TTL, rc.Close, nil
	default:
		return cache.NewMemoryCache(), spec.TTL, noop, nil
	}
}
