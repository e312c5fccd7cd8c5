package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trace struct{ steps []string }

func record(name string, err error) Processor[*trace] {
	return Stage(name, func(_ context.Context, t *trace) error {
		t.steps = append(t.steps, name)
		return err
	})
}

func TestRunStopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		stages    []Processor[*trace]
		wantSteps []string
		wantStage string
	}{
		{
			name:      "all succeed",
			stages:    []Processor[*trace]{record("a", nil), record("b", nil)},
			wantSteps: []string{"a", "b"},
		},
		{
			name:      "second fails",
			stages:    []Processor[*trace]{record("a", nil), record("b", boom), record("c", nil)},
			wantSteps: []string{"a", "b"},
			wantStage: "b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var started []string
			tr := &trace{}
			err := New(tt.stages...).OnStage(func(n string) { started = append(started, n) }).Run(context.Background(), tr)
			assert.Equal(t, tt.wantSteps, tr.steps)
			assert.Equal(t, tt.wantSteps, started)
			if tt.wantStage == "" {
				require.NoError(t, err)
				return
			}
			var se *StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantStage, se.Stage)
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := &trace{}
	err := New(record("a", nil)).Run(ctx, tr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tr.steps)
}

func TestStages(t *testing.T) {
	p := New(record("diff", nil), record("validate", nil))
	assert.Equal(t, []string{"diff", "validate"}, p.Stages())
}
