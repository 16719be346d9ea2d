// Defines rate limit tiers and routing rules.

package ratelimit

import (
	"net/http"
	"time"
)

// Tier is a named limiter. Requests are keyed by client IP within a tier.
type Tier struct {
	Name    string
	Limiter *Limiter
}

// Config holds the limiters for the write and read tiers.
//
// A nil tier is unlimited.
type Config struct {
	Write *Tier // POST and DELETE
	Read  *Tier // GET
}

// NewConfig creates tiers from per-minute rates. A rate of 0 disables the
// tier. Burst is a sixth of the per-minute rate, so a client can spend ten
// seconds worth of budget at once.
func NewConfig(writePerMin, readPerMin int) *Config {
	return &Config{
		Write: newTier("write", writePerMin),
		Read:  newTier("read", readPerMin),
	}
}

func newTier(name string, perMin int) *Tier {
	if perMin <= 0 {
		return nil
	}
	return &Tier{Name: name, Limiter: NewLimiter(perMin, time.Minute, max(perMin/6, 1))}
}

// Match returns the tier for a request, or nil if it is not rate limited.
func (c *Config) Match(method, path string) *Tier {
	if c == nil || path == "/health" || path == "/metrics" {
		return nil
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return c.Write
	case http.MethodGet, http.MethodHead:
		return c.Read
	default:
		return nil
	}
}

// Close stops all limiter cleanup goroutines.
func (c *Config) Close() {
	for _, t := range []*Tier{c.Write, c.Read} {
		if t != nil {
			t.Limiter.Close()
		}
	}
}
