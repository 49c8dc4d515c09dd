package cache

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/dispatchd/internal/embeddings"
	"github.com/fyrsmithlabs/dispatchd/internal/knowledge"
)

type semanticEntry struct {
	vector []float32
	entry
}

// semanticStrategy matches paraphrased prompts by embedding similarity.
// Entries are scanned linearly; MaxEntries keeps the scan bounded.
type semanticStrategy struct {
	mu        sync.RWMutex
	entries   []semanticEntry
	ttl       time.Duration
	threshold float32
	max       int
	embedder  embeddings.Embedder
}

func newSemanticStrategy(ttl time.Duration, threshold float32, max int, embedder embeddings.Embedder) *semanticStrategy {
	return &semanticStrategy{ttl: ttl, threshold: threshold, max: max, embedder: embedder}
}

func (s *semanticStrategy) lookup(ctx context.Context, prompt string) (Result, bool, error) {
	vector, err := s.embedder.EmbedQuery(ctx, prompt)
	if err != nil {
		return Result{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := timeNow()
	best := -1
	var bestSim float32
	for i, e := range s.entries {
		if e.expired(now) {
			continue
		}
		sim := knowledge.CosineSimilarity(vector, e.vector)
		if sim >= s.threshold && (best < 0 || sim > bestSim) {
			best, bestSim = i, sim
		}
	}
	if best < 0 {
		return Result{}, false, nil
	}
	return s.entries[best].result, true, nil
}

func (s *semanticStrategy) store(ctx context.Context, prompt string, res Result) error {
	vector, err := s.embedder.EmbedQuery(ctx, prompt)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := timeNow()
	s.entries = append(s.entries, semanticEntry{
		vector: vector,
		entry:  entry{result: res, createdAt: now, expiresAt: now.Add(s.ttl)},
	})
	if len(s.entries) > s.max {
		s.entries = s.entries[len(s.entries)-s.max:]
	}
	return nil
}

func (s *semanticStrategy) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := timeNow()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if !e.expired(now) {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}
