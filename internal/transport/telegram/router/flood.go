package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// floodGuard keeps one token bucket per user. Entries idle for longer than
// ttl are dropped by sweep.
type floodGuard struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	ttl   time.Duration
	users map[int64]*floodEntry
	now   func() time.Time
}

type floodEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

func newFloodGuard(perSec float64, burst int, ttl time.Duration) *floodGuard {
	g := &floodGuard{ttl: ttl, users: map[int64]*floodEntry{}, now: time.Now}
	g.set(perSec, burst)
	return g
}

func (g *floodGuard) set(perSec float64, burst int) {
	if perSec <= 0 {
		perSec = defaultRatePerSec
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.limit == rate.Limit(perSec) && g.burst == burst {
		return
	}
	g.limit, g.burst = rate.Limit(perSec), burst
	// existing buckets are rebuilt lazily with the new settings
	g.users = map[int64]*floodEntry{}
}

func (g *floodGuard) allow(userID int64) bool {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.users[userID]
	if e == nil {
		e = &floodEntry{lim: rate.NewLimiter(g.limit, g.burst)}
		g.users[userID] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// sweep drops idle entries and returns how many were removed.
func (g *floodGuard) sweep() int {
	cutoff := g.now().Add(-g.ttl)
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for id, e := range g.users {
		if e.seen.Before(cutoff) {
			delete(g.users, id)
			n++
		}
	}
	return n
}

func (g *floodGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.users)
}
