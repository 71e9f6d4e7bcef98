package builtin

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestSimulator_Kinds(t *testing.T) {
	s := NewSimulator(discard, WithoutDelays())
	s.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	tests := []struct {
		kind    string
		payload map[string]any
		want    map[string]any
	}{
		{"data_import", map[string]any{"record_count": 7}, map[string]any{"imported_records": 7}},
		{"data_import", nil, map[string]any{"imported_records": 100}},
		{"data_sync", nil, map[string]any{"synced_items": 50}},
		{"cleanup", map[string]any{"old_items": 3}, map[string]any{"deleted_items": 3}},
		{"backup", nil, map[string]any{"backup_file": "backup_20261019.zip"}},
		{"sync", nil, map[string]any{"synced_records": 100}},
		{"report", nil, map[string]any{"report_generated": true}},
		{"something_else", nil, map[string]any{"processed": true}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			got, err := s.Run(ctx, tt.kind, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSimulator_Transform(t *testing.T) {
	s := NewSimulator(discard, WithoutDelays())
	ctx := context.Background()

	cases := map[string]any{
		"uppercase": "HELLO",
		"lowercase": "hello",
		"reverse":   "olleH",
		"length":    5,
		"hash":      "185f8db32271fe25f561a6fc938b2e264306ec304eda518007d1764826381969",
		"":          "Hello",
	}
	for kind, want := range cases {
		got, err := s.Run(ctx, "transform", map[string]any{"input_data": "Hello", "transform_type": kind})
		require.NoError(t, err)
		assert.Equal(t, want, got["result"], kind)
	}

	_, err := s.Run(ctx, "transform", map[string]any{"input_data": 12})
	assert.Error(t, err)
}

func TestSimulator_SimulatedError(t *testing.T) {
	s := NewSimulator(discard, WithoutDelays())
	_, err := s.Run(context.Background(), "cleanup", map[string]any{FailKey: "disk full"})
	assert.EqualError(t, err, "disk full")
}

func TestSimulator_DelayHonoursContext(t *testing.T) {
	s := NewSimulator(discard, WithDelays(map[string]time.Duration{"data_export": time.Minute}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Run(ctx, "data_export", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSimulator_SetDelay(t *testing.T) {
	s := NewSimulator(discard, WithoutDelays())
	s.SetDelay("report", 30*time.Millisecond)

	start := time.Now()
	_, err := s.Run(context.Background(), "report", nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, time.Duration(0), s.delay("unknown"))
}
