package config

import "time"

// CacheConfig controls the Redis cache in front of thumbnail downloads.
// Entries are keyed by Prefix and the request path; a thumbnail never varies
// by query string, so the query is ignored.  Bodies above MaxBodyBytes are
// served but not stored.
type CacheConfig struct {
	Enabled      bool
	TTL          time.Duration
	Prefix       string
	MaxBodyBytes int
}

// LoadCacheConfig reads the CACHE_* variables.
func LoadCacheConfig() CacheConfig {
	cfg := CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		TTL:          envDur("CACHE_TTL", 10*time.Minute),
		Prefix:       envStr("CACHE_PREFIX", "cache:thumb"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 512<<10),
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return cfg
}

// Key is the Redis key of the cached response for path.
func (c CacheConfig) Key(path string) string {
	return c.Prefix + ":" + path
}
