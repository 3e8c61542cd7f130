package types

import (
	"sync"
	"time"
)

// LocationCache resolves user timezones, loading each name once. The zero
// value is ready to use.
type LocationCache struct {
	mu   sync.Mutex
	locs map[string]*time.Location
}

// Resolve returns the location of tz. Empty and unknown names resolve to
// DefaultUserTimezone; ok is false only for a non-empty unknown tz.
func (c *LocationCache) Resolve(tz string) (loc *time.Location, ok bool) {
	ok = true
	if tz == "" {
		tz = DefaultUserTimezone
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locs == nil {
		c.locs = make(map[string]*time.Location)
	}
	if loc, hit := c.locs[tz]; hit {
		return loc, true
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		ok = false
		tz = DefaultUserTimezone
		if cached, hit := c.locs[tz]; hit {
			return cached, false
		}
		if loc, err = time.LoadLocation(tz); err != nil {
			return time.UTC, false
		}
	}
	c.locs[tz] = loc
	return loc, ok
}
