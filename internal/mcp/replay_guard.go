package mcp

import (
	"sync"
	"time"
)

// replayGuard rejects re-submission of an already-seen request
// signature within the ttl window. Unsigned requests pass through.
type replayGuard struct {
	mu        sync.Mutex
	seen      map[string]int64 // client|signature -> expiry unix ms
	ttl       time.Duration
	lastPrune int64
}

const replayHardCap = 65536

func newReplayGuard(ttl time.Duration) *replayGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &replayGuard{seen: map[string]int64{}, ttl: ttl}
}

func (g *replayGuard) admit(client, signature string, now time.Time) bool {
	if g == nil || signature == "" {
		return true
	}
	key := client + "|" + signature
	nowMS := now.UnixMilli()

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.seen) > 4096 || nowMS-g.lastPrune > g.ttl.Milliseconds()/2 {
		for k, exp := range g.seen {
			if exp <= nowMS {
				delete(g.seen, k)
			}
		}
		g.lastPrune = nowMS
	}

	if exp, ok := g.seen[key]; ok && exp > nowMS {
		return false
	}
	g.seen[key] = nowMS + g.ttl.Milliseconds()
	if len(g.seen) > replayHardCap {
		// Unexpectedly high-cardinality traffic; start over rather
		// than grow without bound.
		g.seen = map[string]int64{key: g.seen[key]}
		g.lastPrune = nowMS
	}
	return true
}
