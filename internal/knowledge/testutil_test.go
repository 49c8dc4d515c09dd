package knowledge_test

import (
	"context"
	"errors"
	"math"
	"strings"
)

// vocabEmbedder produces deterministic embeddings from term counts so that
// texts sharing vocabulary score high cosine similarity. Dimension 8:
// seven vocabulary slots plus a constant baseline to avoid zero vectors.
type vocabEmbedder struct {
	failing bool
}

var vocab = []string{"auth", "token", "login", "task", "kanban", "interview", "deploy"}

func (e *vocabEmbedder) embed(text string) []float32 {
	lower := strings.ToLower(text)
	vec := make([]float32, len(vocab)+1)
	for i, term := range vocab {
		vec[i] = float32(strings.Count(lower, term))
	}
	vec[len(vocab)] = 0.25 // baseline

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

func (e *vocabEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.failing {
		return nil, errors.New("embedder unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *vocabEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.failing {
		return nil, errors.New("embedder unavailable")
	}
	return e.embed(text), nil
}
