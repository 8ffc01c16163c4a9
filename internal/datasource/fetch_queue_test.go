package datasource

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/areastats/internal/types"
)

type fakeFetcher struct {
	calls atomic.Int32
	delay time.Duration
	err   error
	block chan struct{}
}

func (f *fakeFetcher) FetchRegion(ctx context.Context, region types.SearchRegion) (*types.RegionData, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &types.RegionData{
		Region:   region,
		Elements: []types.Element{{ID: 1, Type: types.ElementNode}},
		Bytes:    1024,
	}, nil
}

func newTestQueue(t *testing.T, f RegionFetcher, cfg FetchQueueConfig) *FetchQueue {
	t.Helper()
	cfg.Logger = testLogger()
	fq := NewFetchQueue(f, cfg)
	fq.Start()
	t.Cleanup(fq.Stop)
	return fq
}

func TestFetchQueueSubmitAndWait(t *testing.T) {
	f := &fakeFetcher{}
	fq := newTestQueue(t, f, FetchQueueConfig{Workers: 2, QueueSize: 4})

	res, err := fq.SubmitAndWait(context.Background(), hannoverRegion())
	require.NoError(t, err)
	require.NoError(t, res.Error)
	assert.Equal(t, hannoverRegion(), res.Data.Region)
	assert.Equal(t, int64(1024), res.DataSize)

	status := fq.Status()
	assert.Equal(t, int64(1), status.TotalCompleted)
	assert.Equal(t, int64(0), status.TotalFailed)
	assert.Equal(t, int64(1024), status.TotalBytes)
	assert.Equal(t, 0, status.ActiveFetches)
	assert.Empty(t, status.CurrentRegions)
}

func TestFetchQueueFetchRegionPropagatesErrors(t *testing.T) {
	boom := &FetchError{StatusCode: 503}
	f := &fakeFetcher{err: boom}
	fq := newTestQueue(t, f, FetchQueueConfig{Workers: 1})

	data, err := fq.FetchRegion(context.Background(), hannoverRegion())
	assert.Nil(t, data)
	assert.True(t, errors.Is(err, ErrFetchFailed))
	assert.Equal(t, int64(1), fq.Status().TotalFailed)
}

func TestFetchQueueSubmitFull(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{})}
	fq := NewFetchQueue(f, FetchQueueConfig{Workers: 1, QueueSize: 1, Logger: testLogger()})
	// Workers are not started, so the single slot fills up.
	require.NoError(t, fq.Submit(FetchJob{Region: hannoverRegion()}))
	assert.ErrorIs(t, fq.Submit(FetchJob{Region: hannoverRegion()}), ErrQueueFull)
	assert.Equal(t, 1, fq.Status().QueuedFetches)

	fq.Stop()
	assert.ErrorIs(t, fq.Submit(FetchJob{Region: hannoverRegion()}), ErrQueueStopped)
}

func TestFetchQueueStatusTracksActiveRegions(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{})}
	fq := newTestQueue(t, f, FetchQueueConfig{Workers: 1})

	results := make(chan FetchResult, 1)
	require.NoError(t, fq.Submit(FetchJob{Region: hannoverRegion(), ResultChan: results}))

	require.Eventually(t, func() bool { return fq.Status().ActiveFetches == 1 }, time.Second, 5*time.Millisecond)
	status := fq.Status()
	require.Len(t, status.CurrentRegions, 1)
	assert.Equal(t, hannoverRegion().String(), status.CurrentRegions[0])

	close(f.block)
	select {
	case res := <-results:
		assert.NoError(t, res.Error)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestFetchQueueSubmitAndWaitContextCanceled(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{})}
	fq := newTestQueue(t, f, FetchQueueConfig{Workers: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := fq.SubmitAndWait(ctx, hannoverRegion())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchQueueStopCancelsInFlight(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{})}
	fq := NewFetchQueue(f, FetchQueueConfig{Workers: 1, Logger: testLogger()})
	fq.Start()

	results := make(chan FetchResult, 1)
	require.NoError(t, fq.Submit(FetchJob{Region: hannoverRegion(), ResultChan: results}))
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	fq.Stop()
	res := <-results
	assert.ErrorIs(t, res.Error, context.Canceled)

	// Stop is idempotent.
	fq.Stop()
}

func TestDefaultFetchQueueConfig(t *testing.T) {
	cfg := DefaultFetchQueueConfig()
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 100, cfg.QueueSize)
	assert.Equal(t, int64(10*1024*1024), cfg.DataSizeWarningThreshold)
	assert.NotNil(t, cfg.Logger)

	fq := NewFetchQueue(&fakeFetcher{}, FetchQueueConfig{})
	assert.Equal(t, 2, fq.cfg.Workers)
	assert.Equal(t, 100, fq.cfg.QueueSize)
}
