package audit_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/audit"
	"github.com/fyrsmithlabs/dispatchd/internal/storage"
)

func newTestStore(t *testing.T) *audit.Store {
	t.Helper()

	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := audit.NewStore(db, zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestStore_AppendAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &audit.Record{
		UsageType:        "chat",
		Provider:         "openai",
		Model:            "gpt-4o-mini",
		InputTokens:      120,
		OutputTokens:     40,
		Cost:             0.0005,
		Latency:          350 * time.Millisecond,
		RAGEnabled:       true,
		RAGHit:           true,
		RAGResultsCount:  3,
		RAGTopSimilarity: 0.91,
		RAGRetrievalTime: 12 * time.Millisecond,
		Status:           audit.StatusSuccess,
	}
	require.NoError(t, store.Append(ctx, rec))
	assert.NotEmpty(t, rec.ID)

	records, err := store.List(ctx, "chat", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, 120, got.InputTokens)
	assert.Equal(t, 350*time.Millisecond, got.Latency)
	assert.True(t, got.RAGHit)
	assert.Equal(t, 3, got.RAGResultsCount)
	assert.InDelta(t, 0.91, got.RAGTopSimilarity, 1e-9)
}

func TestStore_AppendRejectsInvalid(t *testing.T) {
	store := newTestStore(t)

	err := store.Append(context.Background(), &audit.Record{Status: audit.StatusSuccess})
	assert.ErrorIs(t, err, audit.ErrInvalidRecord)

	err = store.Append(context.Background(), &audit.Record{UsageType: "chat", Status: "weird"})
	assert.ErrorIs(t, err, audit.ErrInvalidRecord)
}

func TestStore_ListFiltersByUsageType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, ut := range []string{"chat", "chat", "summarize"} {
		require.NoError(t, store.Append(ctx, &audit.Record{
			UsageType: ut, Provider: "openai", Model: "m", Status: audit.StatusSuccess,
		}))
	}

	records, err := store.List(ctx, "chat", 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestStore_Summary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	success := func(cacheHit bool, in, out int, cost float64) *audit.Record {
		return &audit.Record{
			UsageType: "chat", Provider: "openai", Model: "gpt-4o-mini",
			InputTokens: in, OutputTokens: out, Cost: cost,
			CacheHit: cacheHit, Latency: 100 * time.Millisecond,
			Status: audit.StatusSuccess,
		}
	}
	require.NoError(t, store.Append(ctx, success(false, 100, 50, 0.001)))
	require.NoError(t, store.Append(ctx, success(true, 100, 50, 0)))
	require.NoError(t, store.Append(ctx, &audit.Record{
		UsageType: "chat", Provider: "openai", Model: "gpt-4o-mini",
		Status: audit.StatusError, Error: "rate limited",
	}))

	summary, err := store.Summary(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, summary, 1)

	row := summary[0]
	assert.Equal(t, 3, row.Executions)
	assert.Equal(t, 1, row.Errors)
	assert.Equal(t, 1, row.CacheHits)
	assert.Equal(t, 200, row.InputTokens)
	assert.Equal(t, 100, row.OutputTokens)
	assert.InDelta(t, 0.001, row.TotalCost, 1e-9)
}

func TestStore_SummarySinceCutoff(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := &audit.Record{
		UsageType: "chat", Provider: "openai", Model: "m",
		Status:    audit.StatusSuccess,
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	require.NoError(t, store.Append(ctx, old))

	summary, err := store.Summary(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, summary)
}
