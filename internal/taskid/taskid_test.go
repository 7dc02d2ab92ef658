package taskid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewIDProducesDistinctV7(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	parsed, err := uuid.Parse(id1)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), parsed.Version())
	require.True(t, gen.Valid(id1))
}

func TestValidRejectsForeignShapes(t *testing.T) {
	t.Parallel()

	gen := New()
	id, err := gen.NewID()
	require.NoError(t, err)

	cases := map[string]string{
		"empty":      "",
		"garbage":    "not-a-task",
		"uppercase":  strings.ToUpper(id),
		"braced":     "{" + id + "}",
		"version 4":  uuid.NewString(),
		"unhyphened": strings.ReplaceAll(id, "-", ""),
	}
	for name, candidate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			require.False(t, gen.Valid(candidate))
		})
	}
}
