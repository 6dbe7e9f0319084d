// Package extraction runs pattern extraction in the background: completed
// episodes are enqueued, worker tasks dequeue them, run the extractor, and
// persist whatever patterns come out. Extraction is eventually consistent
// with episode completion, bounded by the poll interval and worker count.
package extraction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/memory-engine/pkg/database"
	"github.com/developer-mesh/memory-engine/pkg/errors"
	"github.com/developer-mesh/memory-engine/pkg/models"
	"github.com/developer-mesh/memory-engine/pkg/observability"
)

// Extractor infers patterns from a completed episode. The inference
// heuristics live outside the core; the queue only runs them and stores
// the results.
type Extractor interface {
	ExtractPatterns(ctx context.Context, e *models.Episode) ([]*models.Pattern, error)
}

// Config tunes the extraction queue.
type Config struct {
	// Workers is the number of concurrent extraction tasks
	Workers int
	// QueueSize bounds the in-memory queue
	QueueSize int
	// PollInterval is how often idle workers re-check the queue
	PollInterval time.Duration
}

// DefaultConfig returns the standard queue settings.
func DefaultConfig() Config {
	return Config{Workers: 2, QueueSize: 256, PollInterval: 500 * time.Millisecond}
}

// Stats reports queue activity.
type Stats struct {
	Enqueued          uint64 `json:"enqueued"`
	Processed         uint64 `json:"processed"`
	Failed            uint64 `json:"failed"`
	Overflowed        uint64 `json:"overflowed"`
	PatternsExtracted uint64 `json:"patterns_extracted"`
	QueueDepth        int    `json:"queue_depth"`
}

// Queue is a bounded in-memory extraction queue with worker tasks.
type Queue struct {
	storage   *database.Storage
	extractor Extractor
	config    Config
	logger    observability.Logger
	metrics   *observability.MetricsRegistry

	ch       chan uuid.UUID
	overflow []uuid.UUID
	mu       sync.Mutex

	inFlight  atomic.Int64
	enqueued  atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	overflows atomic.Uint64
	patterns  atomic.Uint64

	stop     chan struct{}
	done     sync.WaitGroup
	stopOnce sync.Once
	started  bool
}

// New creates an extraction queue. Start launches the workers.
func New(storage *database.Storage, extractor Extractor, config Config, logger observability.Logger, metrics *observability.MetricsRegistry) *Queue {
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetricsRegistry()
	}
	return &Queue{
		storage:   storage,
		extractor: extractor,
		config:    config,
		logger:    logger,
		metrics:   metrics,
		ch:        make(chan uuid.UUID, config.QueueSize),
		stop:      make(chan struct{}),
	}
}

// EnqueueEpisode queues an episode for extraction. It never blocks and
// never rejects: when the bounded queue is full the id spills to an
// overflow list with a warning.
func (q *Queue) EnqueueEpisode(id uuid.UUID) {
	q.enqueued.Add(1)
	q.metrics.IncrementCounter(observability.MetricExtractionEnqueued, 1)

	select {
	case q.ch <- id:
	default:
		q.mu.Lock()
		q.overflow = append(q.overflow, id)
		depth := len(q.overflow)
		q.mu.Unlock()
		q.overflows.Add(1)
		q.logger.Warn("Extraction queue full, episode spilled to overflow", map[string]interface{}{
			"episode_id":     id.String(),
			"overflow_depth": depth,
		})
	}
}

// Start launches the worker tasks.
func (q *Queue) Start(ctx context.Context) {
	if q.started {
		return
	}
	q.started = true
	for i := 0; i < q.config.Workers; i++ {
		q.done.Add(1)
		go q.worker(ctx)
	}
}

// worker dequeues and processes episodes until shut down. A worker holding
// an item finishes it before exiting.
func (q *Queue) worker(ctx context.Context) {
	defer q.done.Done()
	for {
		select {
		case <-q.stop:
			return
		case <-ctx.Done():
			return
		case id := <-q.ch:
			q.process(ctx, id)
		case <-time.After(q.config.PollInterval):
			if id, ok := q.popOverflow(); ok {
				q.process(ctx, id)
			}
		}
	}
}

func (q *Queue) popOverflow() (uuid.UUID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.overflow) == 0 {
		return uuid.Nil, false
	}
	id := q.overflow[0]
	q.overflow = q.overflow[1:]
	return id, true
}

// process extracts and persists patterns for one episode. Failures are
// logged and never block subsequent episodes.
func (q *Queue) process(ctx context.Context, id uuid.UUID) {
	q.inFlight.Add(1)
	defer q.inFlight.Add(-1)

	episode, err := q.storage.GetEpisode(ctx, id)
	if err != nil {
		q.recordFailure(id, "fetch", err)
		return
	}

	patterns, err := q.extractor.ExtractPatterns(ctx, episode)
	if err != nil {
		q.recordFailure(id, "extract", err)
		return
	}

	for _, p := range patterns {
		if err := q.storage.StorePattern(ctx, p); err != nil {
			q.recordFailure(id, "store_pattern", err)
			continue
		}
		episode.RecordExtractedPattern(p.PatternID)
		q.patterns.Add(1)
	}
	if len(patterns) > 0 {
		if err := q.storage.StoreEpisode(ctx, episode); err != nil {
			q.recordFailure(id, "link_patterns", err)
			return
		}
	}

	q.processed.Add(1)
	q.metrics.IncrementCounter(observability.MetricExtractionDone, 1)
}

func (q *Queue) recordFailure(id uuid.UUID, stage string, err error) {
	q.failed.Add(1)
	q.metrics.IncrementCounter(observability.MetricExtractionFailed, 1)
	q.logger.Warn("Pattern extraction failed", map[string]interface{}{
		"episode_id": id.String(),
		"stage":      stage,
		"error":      err.Error(),
	})
}

// Size returns the number of queued episodes, overflow included.
func (q *Queue) Size() int {
	q.mu.Lock()
	overflow := len(q.overflow)
	q.mu.Unlock()
	return len(q.ch) + overflow
}

// WaitUntilEmpty polls until the queue drains (nothing queued, nothing in
// flight) or the timeout elapses.
func (q *Queue) WaitUntilEmpty(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if q.Size() == 0 && q.inFlight.Load() == 0 {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return errors.Newf(errors.KindCancelled,
		"extraction queue not empty after %s: %d queued", timeout, q.Size())
}

// Shutdown signals workers to finish their current item and exit, then
// waits for them.
func (q *Queue) Shutdown() {
	q.stopOnce.Do(func() {
		close(q.stop)
	})
	q.done.Wait()
}

// Stats snapshots the queue's counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:          q.enqueued.Load(),
		Processed:         q.processed.Load(),
		Failed:            q.failed.Load(),
		Overflowed:        q.overflows.Load(),
		PatternsExtracted: q.patterns.Load(),
		QueueDepth:        q.Size(),
	}
}
