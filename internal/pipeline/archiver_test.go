package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	mu      sync.Mutex
	cutoffs []time.Time
	count   int64
	err     error
}

func (f *fakeArchiver) ArchiveJournal(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	return f.count, f.err
}

func (f *fakeArchiver) runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

type fakePruner struct {
	before []time.Time
}

func (f *fakePruner) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	f.before = append(f.before, before)
	return 4, nil
}

func newTestArchiver(arch *fakeArchiver, pruner *fakePruner, cfg ArchiverConfig) *Archiver {
	a := NewArchiver(arch, pruner, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestRunArchivesThenPrunes(t *testing.T) {
	arch := &fakeArchiver{count: 4}
	pruner := &fakePruner{}
	a := newTestArchiver(arch, pruner, ArchiverConfig{Retention: 48 * time.Hour, Prune: true})

	require.NoError(t, a.Run(context.Background()))

	want := time.Date(2024, 6, 8, 12, 0, 0, 0, time.UTC)
	require.Len(t, arch.cutoffs, 1)
	assert.True(t, arch.cutoffs[0].Equal(want))
	require.Len(t, pruner.before, 1)
	assert.True(t, pruner.before[0].Equal(want))
}

func TestRunSkipsPruneWithoutArchive(t *testing.T) {
	pruner := &fakePruner{}

	a := newTestArchiver(&fakeArchiver{}, pruner, ArchiverConfig{Retention: time.Hour, Prune: true})
	require.NoError(t, a.Run(context.Background()))
	assert.Empty(t, pruner.before)

	a = newTestArchiver(&fakeArchiver{count: 2}, pruner, ArchiverConfig{Retention: time.Hour})
	require.NoError(t, a.Run(context.Background()))
	assert.Empty(t, pruner.before)
}

func TestRunKeepsRowsWhenUploadFails(t *testing.T) {
	pruner := &fakePruner{}
	a := newTestArchiver(&fakeArchiver{err: errors.New("bucket gone")}, pruner, ArchiverConfig{Retention: time.Hour, Prune: true})

	err := a.Run(context.Background())
	assert.ErrorContains(t, err, "bucket gone")
	assert.Empty(t, pruner.before)
}

func TestRunEveryStopsOnCancel(t *testing.T) {
	arch := &fakeArchiver{}
	a := newTestArchiver(arch, nil, ArchiverConfig{Retention: time.Hour, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunEvery(ctx) }()

	require.Eventually(t, func() bool { return arch.runs() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunEvery did not stop")
	}
}
