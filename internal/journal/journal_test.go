package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(id string, at time.Time, success bool) Entry {
	e := Entry{
		ID:               id,
		StartedAt:        at,
		FinishedAt:       at.Add(3 * time.Millisecond),
		Success:          success,
		Phase:            "committing",
		LibrariesChanged: 1,
		ClassesMigrated:  2,
		ObjectsMigrated:  5,
	}
	if !success {
		e.Phase = "validating"
		e.Error = "Const class cannot become non-const: Library:'file:///a' Class: A"
	}
	return e
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	j, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer j.Close()

	base := time.Unix(1700000000, 0)
	require.NoError(t, j.Record(ctx, entry("a", base, true)))
	require.NoError(t, j.Record(ctx, entry("b", base.Add(time.Second), false)))
	require.NoError(t, j.Record(ctx, entry("c", base.Add(2*time.Second), true)))

	tests := []struct {
		name  string
		limit int
		ids   []string
	}{
		{"all", 0, []string{"c", "b", "a"}},
		{"limited", 2, []string{"c", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := j.List(ctx, tt.limit)
			require.NoError(t, err)
			var ids []string
			for _, e := range got {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}

	got, err := j.List(ctx, 0)
	require.NoError(t, err)
	failed := got[1]
	assert.False(t, failed.Success)
	assert.Equal(t, "validating", failed.Phase)
	assert.Contains(t, failed.Error, "Const class cannot become non-const")
	assert.Equal(t, 3*time.Millisecond, failed.Duration())
	assert.True(t, got[0].StartedAt.Equal(base.Add(2*time.Second)))
	assert.Equal(t, 5, got[0].ObjectsMigrated)
}

func TestDuplicateID(t *testing.T) {
	ctx := context.Background()
	j, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Record(ctx, entry("a", time.Now(), true)))
	assert.Error(t, j.Record(ctx, entry("a", time.Now(), true)))
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reloads.db")

	j, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, entry("a", time.Now(), true)))
	require.NoError(t, j.Close())

	_, err = j.List(ctx, 0)
	assert.ErrorIs(t, err, ErrClosed)

	j, err = Open(ctx, path)
	require.NoError(t, err)
	defer j.Close()
	got, err := j.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}
