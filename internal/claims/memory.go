package claims

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is the single-node fallback used when Redis is not
// configured, and the test double. Expired entries are swept lazily.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (l *MemoryLedger) Claim(_ context.Context, signature string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for sig, exp := range l.entries {
		if exp.Before(now) {
			delete(l.entries, sig)
		}
	}

	if exp, ok := l.entries[signature]; ok && exp.After(now) {
		return false, nil
	}
	l.entries[signature] = now.Add(ttl)
	return true, nil
}
