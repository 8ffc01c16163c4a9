package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/areastats/internal/types"
)

// ErrQueueFull is returned by Submit when no slot is free.
var ErrQueueFull = errors.New("fetch queue is full")

// ErrQueueStopped is returned once Stop has been called.
var ErrQueueStopped = errors.New("fetch queue is shutting down")

// RegionFetcher fetches raw OSM data for a search region.
type RegionFetcher interface {
	FetchRegion(ctx context.Context, region types.SearchRegion) (*types.RegionData, error)
}

// FetchJob represents a region fetch request.
type FetchJob struct {
	Region     types.SearchRegion
	ResultChan chan FetchResult
}

// FetchResult contains the result of a region fetch.
type FetchResult struct {
	Data     *types.RegionData
	DataSize int64 // response size in bytes
	Error    error
}

// FetchQueueStatus contains current status of the fetch queue.
type FetchQueueStatus struct {
	// ActiveFetches is the number of currently in-flight fetch operations
	ActiveFetches int `json:"active_fetches"`
	// QueuedFetches is the number of jobs waiting in the queue
	QueuedFetches int `json:"queued_fetches"`
	// TotalCompleted is the total number of completed fetches since start
	TotalCompleted int64 `json:"total_completed"`
	// TotalFailed is the total number of failed fetches since start
	TotalFailed int64 `json:"total_failed"`
	// TotalBytes is the total bytes fetched since start
	TotalBytes int64 `json:"total_bytes"`
	// CurrentRegions lists regions currently being fetched
	CurrentRegions []string `json:"current_regions"`
}

// FetchQueueConfig configures the fetch queue behavior.
type FetchQueueConfig struct {
	// Workers is the number of concurrent fetch workers (default: 2)
	Workers int
	// QueueSize is the maximum number of pending fetch jobs (default: 100)
	QueueSize int
	// DataSizeWarningThreshold warns when a response exceeds this size in bytes (default: 10MB)
	DataSizeWarningThreshold int64
	// Logger for fetch operations
	Logger *slog.Logger
}

// DefaultFetchQueueConfig returns sensible defaults.
func DefaultFetchQueueConfig() FetchQueueConfig {
	return FetchQueueConfig{
		Workers:                  2,
		QueueSize:                100,
		DataSizeWarningThreshold: 10 * 1024 * 1024,
		Logger:                   slog.Default(),
	}
}

// FetchQueue bounds the number of concurrent Overpass fetches.
// It queues fetch jobs and processes them with a pool of workers.
type FetchQueue struct {
	ds        RegionFetcher
	jobs      chan FetchJob
	cfg       FetchQueueConfig
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	activeFetches  atomic.Int32
	totalCompleted atomic.Int64
	totalFailed    atomic.Int64
	totalBytes     atomic.Int64
	currentRegions sync.Map // region string -> start time
}

// NewFetchQueue creates a new fetch queue with the given fetcher and config.
func NewFetchQueue(ds RegionFetcher, cfg FetchQueueConfig) *FetchQueue {
	if cfg.Workers < 1 {
		cfg.Workers = 2
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 100
	}
	if cfg.DataSizeWarningThreshold <= 0 {
		cfg.DataSizeWarningThreshold = 10 * 1024 * 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &FetchQueue{
		ds:     ds,
		jobs:   make(chan FetchJob, cfg.QueueSize),
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing fetch jobs with the configured number of workers.
func (fq *FetchQueue) Start() {
	fq.startOnce.Do(func() {
		fq.cfg.Logger.Info("starting fetch queue workers", "workers", fq.cfg.Workers)
		for i := 0; i < fq.cfg.Workers; i++ {
			fq.wg.Add(1)
			go fq.worker(i)
		}
	})
}

// Stop cancels in-flight fetches and waits for the workers to exit.
func (fq *FetchQueue) Stop() {
	fq.stopOnce.Do(func() {
		fq.cancel()
		fq.wg.Wait()
	})
}

// Submit adds a fetch job to the queue and returns immediately.
// The result will be sent to the job's ResultChan when complete.
func (fq *FetchQueue) Submit(job FetchJob) error {
	if fq.ctx.Err() != nil {
		return ErrQueueStopped
	}
	select {
	case fq.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitAndWait submits a fetch job and blocks until the result is available.
func (fq *FetchQueue) SubmitAndWait(ctx context.Context, region types.SearchRegion) (FetchResult, error) {
	resultChan := make(chan FetchResult, 1)
	job := FetchJob{Region: region, ResultChan: resultChan}

	select {
	case fq.jobs <- job:
	case <-ctx.Done():
		return FetchResult{}, ctx.Err()
	case <-fq.ctx.Done():
		return FetchResult{}, ErrQueueStopped
	}

	select {
	case result := <-resultChan:
		return result, nil
	case <-ctx.Done():
		return FetchResult{}, ctx.Err()
	case <-fq.ctx.Done():
		return FetchResult{}, ErrQueueStopped
	}
}

// FetchRegion queues a fetch and waits for it, so a FetchQueue can stand in
// wherever a RegionFetcher is expected.
func (fq *FetchQueue) FetchRegion(ctx context.Context, region types.SearchRegion) (*types.RegionData, error) {
	res, err := fq.SubmitAndWait(ctx, region)
	if err != nil {
		return nil, err
	}
	return res.Data, res.Error
}

// FetchSync performs a synchronous fetch, bypassing the queue.
func (fq *FetchQueue) FetchSync(ctx context.Context, region types.SearchRegion) FetchResult {
	return fq.doFetch(ctx, region)
}

// Status returns the current status of the fetch queue.
func (fq *FetchQueue) Status() FetchQueueStatus {
	current := []string{}
	fq.currentRegions.Range(func(key, _ any) bool {
		current = append(current, key.(string))
		return true
	})

	return FetchQueueStatus{
		ActiveFetches:  int(fq.activeFetches.Load()),
		QueuedFetches:  len(fq.jobs),
		TotalCompleted: fq.totalCompleted.Load(),
		TotalFailed:    fq.totalFailed.Load(),
		TotalBytes:     fq.totalBytes.Load(),
		CurrentRegions: current,
	}
}

func (fq *FetchQueue) worker(id int) {
	defer fq.wg.Done()
	log := fq.cfg.Logger.With("worker_id", id)
	log.Debug("fetch worker started")

	for {
		select {
		case <-fq.ctx.Done():
			log.Debug("fetch worker stopping")
			return
		case job := <-fq.jobs:
			result := fq.doFetch(fq.ctx, job.Region)
			if job.ResultChan != nil {
				select {
				case job.ResultChan <- result:
				default:
					log.Warn("result channel full or closed", "region", job.Region.String())
				}
			}
		}
	}
}

func (fq *FetchQueue) doFetch(ctx context.Context, region types.SearchRegion) FetchResult {
	key := region.String()

	fq.activeFetches.Add(1)
	fq.currentRegions.Store(key, time.Now())
	defer func() {
		fq.activeFetches.Add(-1)
		fq.currentRegions.Delete(key)
	}()

	start := time.Now()
	log := fq.cfg.Logger.With("region", key)
	log.Info("fetching region data from Overpass API")

	data, err := fq.ds.FetchRegion(ctx, region)
	elapsed := time.Since(start)

	if err != nil {
		fq.totalFailed.Add(1)
		log.Error("fetch failed",
			"error", err,
			"duration_ms", elapsed.Milliseconds(),
		)
		return FetchResult{Error: err}
	}

	dataSize := data.Bytes
	fq.totalCompleted.Add(1)
	fq.totalBytes.Add(dataSize)

	counts := data.ElementCounts()
	log.Info("fetch completed",
		"duration_ms", elapsed.Milliseconds(),
		"data_size_bytes", dataSize,
		"data_size_mb", fmt.Sprintf("%.2f", float64(dataSize)/(1024*1024)),
		"cached", data.Cached,
		"nodes", counts[string(types.ElementNode)],
		"ways", counts[string(types.ElementWay)],
		"relations", counts[string(types.ElementRelation)],
	)

	if dataSize > fq.cfg.DataSizeWarningThreshold {
		log.Warn("region data exceeds size threshold - consider a smaller radius",
			"threshold_mb", fq.cfg.DataSizeWarningThreshold/(1024*1024),
			"actual_mb", fmt.Sprintf("%.2f", float64(dataSize)/(1024*1024)),
		)
	}

	return FetchResult{
		Data:     data,
		DataSize: dataSize,
	}
}
