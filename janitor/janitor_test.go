package janitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	mu     sync.Mutex
	calls  int
	result SweepResult
	err    error
}

var _ Sweeper = (*fakeSweeper)(nil)

func (f *fakeSweeper) Sweep(_ context.Context) (SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	return f.result, f.err
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func TestManagerRunsImmediately(t *testing.T) {
	fs := &fakeSweeper{}
	m := NewManager(fs, Config{Interval: time.Hour})

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	// The first pass happens on Start, long before the ticker fires.
	require.Eventually(t, func() bool {
		return fs.count() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestManagerTicks(t *testing.T) {
	fs := &fakeSweeper{}
	m := NewManager(fs, Config{Interval: 10 * time.Millisecond})

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.Eventually(t, func() bool {
		return fs.count() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestManagerStartTwice(t *testing.T) {
	fs := &fakeSweeper{}
	m := NewManager(fs, Config{Interval: time.Hour})

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.Eventually(t, func() bool {
		return fs.count() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool {
		return fs.count() > 1
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestManagerStopBeforeStart(t *testing.T) {
	fs := &fakeSweeper{}
	m := NewManager(fs, Config{Interval: time.Hour})

	m.Stop() // returns without blocking

	require.NoError(t, m.Start(context.Background()))
	assert.Never(t, func() bool {
		return fs.count() > 0
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestManagerStopWaitsForSweep(t *testing.T) {
	release := make(chan struct{})
	bs := &blockingSweeper{release: release}
	m := NewManager(bs, Config{Interval: time.Hour})

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool {
		return bs.started()
	}, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a sweep was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the sweep finished")
	}
}

func TestManagerContextCancel(t *testing.T) {
	fs := &fakeSweeper{}
	m := NewManager(fs, Config{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	cancel()

	require.Eventually(t, func() bool {
		select {
		case <-m.doneCh:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	m.Stop() // still safe after the loop exited on its own
}

func TestManagerSurvivesSweepErrors(t *testing.T) {
	fs := &fakeSweeper{err: errors.New("disk on fire")}
	m := NewManager(fs, Config{Interval: 10 * time.Millisecond})

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.Eventually(t, func() bool {
		return fs.count() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestManagerRunOnce(t *testing.T) {
	fs := &fakeSweeper{result: SweepResult{
		Scanned:    12,
		Expired:    3,
		Orphans:    1,
		BytesFreed: 4096,
	}}
	m := NewManager(fs, Config{})

	res := m.RunOnce(context.Background())
	assert.Equal(t, 3, res.Expired)
	assert.Equal(t, 1, res.Orphans)
	assert.Equal(t, int64(4096), res.BytesFreed)
	assert.Equal(t, 1, fs.count())
}

type blockingSweeper struct {
	mu       sync.Mutex
	inFlight bool
	release  chan struct{}
}

func (b *blockingSweeper) Sweep(_ context.Context) (SweepResult, error) {
	b.mu.Lock()
	b.inFlight = true
	b.mu.Unlock()

	<-b.release
	return SweepResult{}, nil
}

func (b *blockingSweeper) started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.inFlight
}
