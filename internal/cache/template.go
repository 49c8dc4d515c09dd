package cache

import (
	"regexp"
	"sync"
	"time"
)

// Variable slots blanked out of the prompt skeleton: numbers and quoted
// strings. "generate 5 items for 'acme'" and "generate 9 items for
// 'globex'" share a skeleton.
var (
	numberSlot = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	quotedSlot = regexp.MustCompile(`"[^"]*"|'[^']*'`)
)

// Skeleton reduces a prompt to its structural shape.
func Skeleton(prompt string) string {
	skeleton := quotedSlot.ReplaceAllString(prompt, "<str>")
	skeleton = numberSlot.ReplaceAllString(skeleton, "<num>")
	return Normalize(skeleton)
}

// templateStrategy matches prompts that share a skeleton.
type templateStrategy struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	max     int
}

func newTemplateStrategy(ttl time.Duration, max int) *templateStrategy {
	return &templateStrategy{entries: make(map[string]entry), ttl: ttl, max: max}
}

func (s *templateStrategy) lookup(prompt string) (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[hashPrompt(Skeleton(prompt))]
	if !ok || e.expired(timeNow()) {
		return Result{}, false
	}
	return e.result, true
}

func (s *templateStrategy) store(prompt string, res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := timeNow()
	s.entries[hashPrompt(Skeleton(prompt))] = entry{result: res, createdAt: now, expiresAt: now.Add(s.ttl)}
	evictOldest(s.entries, s.max)
}

func (s *templateStrategy) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	sweepExpired(s.entries)
}
