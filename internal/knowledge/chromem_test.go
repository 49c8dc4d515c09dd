package knowledge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/dispatchd/internal/knowledge"
)

func newTestChromemStore(t *testing.T) *knowledge.ChromemStore {
	t.Helper()

	store, err := knowledge.NewChromemStore(knowledge.ChromemConfig{
		Path:       t.TempDir(),
		Collection: "test_knowledge",
		VectorSize: 8,
	}, &vocabEmbedder{}, nil)
	require.NoError(t, err)
	return store
}

func TestChromemStore_AddAndRetrieve(t *testing.T) {
	store := newTestChromemStore(t)
	defer store.Close()

	ids, err := store.Add(context.Background(), []knowledge.Document{
		{ID: "d1", Content: "JWT auth with refresh tokens", ProjectID: "p1"},
		{ID: "d2", Content: "interview question generation", ProjectID: "p1"},
	})
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	matches, err := store.Retrieve(context.Background(), "how was authentication implemented",
		map[string]string{knowledge.MetaProject: "p1"}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "d1", matches[0].ID)
	assert.Equal(t, "JWT auth with refresh tokens", matches[0].Content)
}

func TestChromemStore_EmptyStoreReturnsNoMatches(t *testing.T) {
	store := newTestChromemStore(t)
	defer store.Close()

	matches, err := store.Retrieve(context.Background(), "anything", nil, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChromemStore_DeleteByFilterReportsCount(t *testing.T) {
	store := newTestChromemStore(t)
	defer store.Close()

	_, err := store.Add(context.Background(), []knowledge.Document{
		{ID: "a", Content: "auth notes", ProjectID: "p1"},
		{ID: "b", Content: "task notes", ProjectID: "p1"},
		{ID: "c", Content: "login notes", ProjectID: "p2"},
	})
	require.NoError(t, err)

	deleted, err := store.DeleteByFilter(context.Background(), map[string]string{knowledge.MetaProject: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestChromemStore_RejectsEmptyContent(t *testing.T) {
	store := newTestChromemStore(t)
	defer store.Close()

	_, err := store.Add(context.Background(), []knowledge.Document{{ID: "x", Content: ""}})
	assert.ErrorIs(t, err, knowledge.ErrEmptyContent)
}

// The index-backed store must agree with the linear-scan reference on the
// same corpus and queries.
func TestChromemStore_AgreesWithLinearReference(t *testing.T) {
	chromemStore := newTestChromemStore(t)
	defer chromemStore.Close()

	linearStore, err := knowledge.NewLinearStore(&vocabEmbedder{})
	require.NoError(t, err)

	docs := []knowledge.Document{
		{ID: "1", Content: "JWT auth with refresh tokens", ProjectID: "p1"},
		{ID: "2", Content: "OAuth2 login flow", ProjectID: "p1"},
		{ID: "3", Content: "kanban task board", ProjectID: "p1"},
		{ID: "4", Content: "interview scheduling and auth", ProjectID: "p1"},
		{ID: "5", Content: "deploy pipeline tokens", ProjectID: "p1"},
	}

	_, err = chromemStore.Add(context.Background(), docs)
	require.NoError(t, err)
	_, err = linearStore.Add(context.Background(), docs)
	require.NoError(t, err)

	queries := []string{"auth token", "login flow", "task board", "deploy"}
	filter := map[string]string{knowledge.MetaProject: "p1"}

	for _, q := range queries {
		fromChromem, err := chromemStore.Retrieve(context.Background(), q, filter, 3, 0)
		require.NoError(t, err)
		fromLinear, err := linearStore.Retrieve(context.Background(), q, filter, 3, 0)
		require.NoError(t, err)

		chromemIDs := make(map[string]struct{}, len(fromChromem))
		for _, m := range fromChromem {
			chromemIDs[m.ID] = struct{}{}
		}
		for _, m := range fromLinear {
			assert.Contains(t, chromemIDs, m.ID, "query %q: top-k sets must agree", q)
		}
	}
}
