package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

type entry struct {
	result    Result
	createdAt time.Time
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// exactStrategy matches on the SHA-256 of the normalized prompt.
type exactStrategy struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	max     int
}

func newExactStrategy(ttl time.Duration, max int) *exactStrategy {
	return &exactStrategy{entries: make(map[string]entry), ttl: ttl, max: max}
}

func hashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

func (s *exactStrategy) lookup(prompt string) (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[hashPrompt(prompt)]
	if !ok || e.expired(timeNow()) {
		return Result{}, false
	}
	return e.result, true
}

func (s *exactStrategy) store(prompt string, res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := timeNow()
	s.entries[hashPrompt(prompt)] = entry{result: res, createdAt: now, expiresAt: now.Add(s.ttl)}
	evictOldest(s.entries, s.max)
}

func (s *exactStrategy) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	sweepExpired(s.entries)
}

// evictOldest trims a map-backed strategy down to max entries by
// created time.
func evictOldest(entries map[string]entry, max int) {
	for len(entries) > max {
		oldestKey := ""
		var oldest time.Time
		for k, e := range entries {
			if oldestKey == "" || e.createdAt.Before(oldest) {
				oldestKey, oldest = k, e.createdAt
			}
		}
		delete(entries, oldestKey)
	}
}

func sweepExpired(entries map[string]entry) {
	now := timeNow()
	for k, e := range entries {
		if e.expired(now) {
			delete(entries, k)
		}
	}
}
