package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobArchiver struct {
	calls  atomic.Int64
	cutoff time.Time
	count  int64
	err    error
}

func (f *fakeBlobArchiver) ArchiveSettledTrades(ctx context.Context, before time.Time) (int64, error) {
	f.calls.Add(1)
	f.cutoff = before
	return f.count, f.err
}

func TestArchiverRun(t *testing.T) {
	blob := &fakeBlobArchiver{count: 7}
	arch := NewArchiver(blob, 30, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, arch.Run(context.Background()))
	assert.Equal(t, int64(1), blob.calls.Load())

	wantCutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)
	assert.WithinDuration(t, wantCutoff, blob.cutoff, 5*time.Second)
}

func TestArchiverRunPropagatesError(t *testing.T) {
	blob := &fakeBlobArchiver{err: errors.New("bucket unreachable")}
	arch := NewArchiver(blob, 30, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := arch.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unreachable")
}

func TestNextCronTime(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		after string
		want  string
	}{
		{
			name:  "monthly at 3am",
			expr:  "0 3 1 * *",
			after: "2026-03-14T09:30:00Z",
			want:  "2026-04-01T03:00:00Z",
		},
		{
			name:  "daily at midnight",
			expr:  "0 0 * * *",
			after: "2026-03-14T09:30:00Z",
			want:  "2026-03-15T00:00:00Z",
		},
		{
			name:  "every minute",
			expr:  "* * * * *",
			after: "2026-03-14T09:30:10Z",
			want:  "2026-03-14T09:31:00Z",
		},
		{
			name:  "minute list",
			expr:  "0,30 * * * *",
			after: "2026-03-14T09:05:00Z",
			want:  "2026-03-14T09:30:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			after, err := time.Parse(time.RFC3339, tt.after)
			require.NoError(t, err)

			next, err := nextCronTime(tt.expr, after)
			require.NoError(t, err)
			assert.Equal(t, tt.want, next.Format(time.RFC3339))
		})
	}
}

func TestNextCronTimeRejectsBadExpressions(t *testing.T) {
	_, err := nextCronTime("0 3 1 *", time.Now())
	require.Error(t, err)

	_, err = nextCronTime("x * * * *", time.Now())
	require.Error(t, err)
}

func TestRunCronStopsOnCancel(t *testing.T) {
	blob := &fakeBlobArchiver{}
	arch := NewArchiver(blob, 30, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- arch.RunCron(ctx, "0 3 1 * *")
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("RunCron did not stop after cancel")
	}
}
