package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

func TestCandidateStoreDeduplicatesAcrossTasks(t *testing.T) {
	t.Parallel()

	store := NewCandidateStore()
	n, err := store.SaveCandidates(context.Background(), "a", []discovery.CandidateProfile{
		{Name: "Ada", SourceURL: "https://x/in/ada"},
		{Name: "Grace", SourceURL: "https://x/in/grace"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = store.SaveCandidates(context.Background(), "b", []discovery.CandidateProfile{
		{Name: "Ada again", SourceURL: "https://X/in/ada/"},
		{Name: "Linus", SourceURL: "https://x/in/linus"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	all := store.All()
	require.Len(t, all, 3)
	require.Equal(t, "Ada", all[0].Name)
	require.Len(t, store.ForTask("b"), 1)
}

func TestCandidateStoreEvictsOldestAtLimit(t *testing.T) {
	t.Parallel()

	store := NewCandidateStore(WithLimit(2))
	n, err := store.SaveCandidates(context.Background(), "a", []discovery.CandidateProfile{
		{Name: "Ada", SourceURL: "https://x/in/ada"},
		{Name: "Grace", SourceURL: "https://x/in/grace"},
		{Name: "Linus", SourceURL: "https://x/in/linus"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 2, store.Len())

	all := store.All()
	require.Equal(t, "Grace", all[0].Name)
	require.Equal(t, "Linus", all[1].Name)

	n, err = store.SaveCandidates(context.Background(), "b", []discovery.CandidateProfile{
		{Name: "Linus again", SourceURL: "https://x/in/linus"},
		{Name: "Ada again", SourceURL: "https://x/in/ada"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 2, store.Len())
	require.Len(t, store.ForTask("b"), 1)
}

func TestCandidateStoreIgnoresNonPositiveLimit(t *testing.T) {
	t.Parallel()

	store := NewCandidateStore(WithLimit(0))
	require.Equal(t, DefaultCandidateLimit, store.limit)
}
