// Package warmer preloads predicted analysis artifacts in the background,
// throttled by host CPU and memory pressure.
package warmer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/samplemind/samplemind-core/pkg/analysis"
	"github.com/samplemind/samplemind-core/pkg/logging"
	"github.com/samplemind/samplemind-core/pkg/metrics"
)

// Analyzer produces feature bundles. *analysis.Engine satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, path string, level analysis.Level) (*analysis.FeatureBundle, error)
}

// ResultCache receives warmed bundles. *cache.Manager satisfies it.
type ResultCache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Config tunes the warmer loop.
type Config struct {
	CPUThreshold    float64       `json:"cpu_threshold"`
	MemoryThreshold float64       `json:"memory_threshold"`
	MaxConcurrent   int           `json:"max_concurrent"`
	ThrottleSleep   time.Duration `json:"throttle_sleep"`
	ResultTTL       time.Duration `json:"result_ttl"`
	ShutdownGrace   time.Duration `json:"shutdown_grace"`
}

// DefaultConfig pauses above 60% CPU or 70% memory and runs at most two
// tasks at once.
func DefaultConfig() *Config {
	return &Config{
		CPUThreshold:    0.60,
		MemoryThreshold: 0.70,
		MaxConcurrent:   2,
		ThrottleSleep:   time.Second,
		ResultTTL:       24 * time.Hour,
		ShutdownGrace:   10 * time.Second,
	}
}

// Stats reports warmer activity.
type Stats struct {
	Total       int64   `json:"total"`
	Completed   int64   `json:"completed"`
	Skipped     int64   `json:"skipped"`
	Failed      int64   `json:"failed"`
	BytesWarmed int64   `json:"bytes_warmed"`
	AvgTimeS    float64 `json:"avg_time_s"`
	Pauses      int64   `json:"pauses"`
	QueueDepth  int     `json:"queue_depth"`
	InFlight    int     `json:"in_flight"`
}

// Warmer runs a single scheduling loop that drains the priority queue.
type Warmer struct {
	config   *Config
	analyzer Analyzer
	results  ResultCache // nil skips the cache write
	sampler  ResourceSampler
	logger   *logging.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mutex     sync.Mutex
	cond      *sync.Cond
	queue     taskHeap
	completed map[string]struct{}
	paused    bool
	stopped   bool
	inFlight  int
	nextSeq   uint64
	stats     Stats
	totalTime time.Duration

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds a warmer. A nil sampler uses the host sampler.
func New(config *Config, analyzer Analyzer, results ResultCache, sampler ResourceSampler, logger *logging.Logger, m *metrics.Metrics) *Warmer {
	if config == nil {
		config = DefaultConfig()
	}
	if sampler == nil {
		sampler = NewSystemSampler()
	}
	if logger == nil {
		logger = logging.NewLogger(nil, nil)
	}
	if m == nil {
		m = metrics.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Warmer{
		config:    config,
		analyzer:  analyzer,
		results:   results,
		sampler:   sampler,
		logger:    logger.WithComponent("warmer"),
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		completed: make(map[string]struct{}),
	}
	w.cond = sync.NewCond(&w.mutex)
	return w
}

// Start launches the scheduling loop. Subsequent calls are no-ops.
func (w *Warmer) Start() {
	w.startOnce.Do(func() {
		w.wg.Add(1)
		go w.loop()
	})
}

// Enqueue adds a task. Enqueues after Stop are dropped.
func (w *Warmer) Enqueue(task Task) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.stopped {
		return
	}
	w.nextSeq++
	task.seq = w.nextSeq
	w.queue.push(&task)
	w.stats.Total++
	w.metrics.WarmerQueueDepth.Set(float64(w.queue.Len()))
	w.cond.Signal()
}

// Pause holds the loop before its next dispatch. In-flight tasks finish.
func (w *Warmer) Pause() {
	w.mutex.Lock()
	w.paused = true
	w.mutex.Unlock()
}

// Resume releases a paused loop.
func (w *Warmer) Resume() {
	w.mutex.Lock()
	w.paused = false
	w.mutex.Unlock()
	w.cond.Broadcast()
}

// Stop signals the loop to exit and waits for in-flight tasks up to the
// shutdown grace window, then cancels them.
func (w *Warmer) Stop() {
	w.stopOnce.Do(func() {
		w.mutex.Lock()
		w.stopped = true
		w.mutex.Unlock()
		w.cond.Broadcast()

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(w.config.ShutdownGrace):
			w.logger.Warn("shutdown grace expired, cancelling in-flight warmup tasks")
			w.cancel()
			<-done
		}
		w.cancel()
	})
}

func (w *Warmer) loop() {
	defer w.wg.Done()
	for {
		w.mutex.Lock()
		for !w.stopped && (w.paused || w.queue.Len() == 0 || w.inFlight >= w.config.MaxConcurrent) {
			w.cond.Wait()
		}
		if w.stopped {
			w.mutex.Unlock()
			return
		}
		w.mutex.Unlock()

		if !w.resourcesOK() {
			w.mutex.Lock()
			w.stats.Pauses++
			w.mutex.Unlock()
			w.metrics.WarmerPauses.Inc()
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(w.config.ThrottleSleep):
			}
			continue
		}

		w.mutex.Lock()
		task := w.queue.pop()
		w.metrics.WarmerQueueDepth.Set(float64(w.queue.Len()))
		if task == nil {
			w.mutex.Unlock()
			continue
		}
		if _, done := w.completed[task.Key()]; done {
			w.stats.Skipped++
			w.mutex.Unlock()
			continue
		}
		w.inFlight++
		w.mutex.Unlock()

		w.wg.Add(1)
		go w.run(task)
	}
}

// resourcesOK samples host load; sampling errors do not block warming.
func (w *Warmer) resourcesOK() bool {
	cpuFrac, err := w.sampler.CPUFraction(w.ctx)
	if err == nil && cpuFrac > w.config.CPUThreshold {
		return false
	}
	memFrac, err := w.sampler.MemoryFraction(w.ctx)
	if err == nil && memFrac > w.config.MemoryThreshold {
		return false
	}
	return true
}

func (w *Warmer) run(task *Task) {
	defer w.wg.Done()
	start := time.Now()

	bundle, err := w.analyzer.Analyze(w.ctx, task.Path, analysis.Level(task.AnalysisLevel))
	var payload []byte
	if err == nil {
		payload, err = json.Marshal(bundle)
	}
	if err == nil && w.results != nil {
		if cacheErr := w.results.Set(w.ctx, task.Key(), payload, w.config.ResultTTL); cacheErr != nil {
			w.logger.Warn("warmed result cache write failed", "key", task.Key(), "error", cacheErr)
		}
	}

	w.mutex.Lock()
	w.inFlight--
	if err != nil {
		w.stats.Failed++
		w.logger.Warn("warmup task failed", "key", task.Key(), "error", err)
	} else {
		w.completed[task.Key()] = struct{}{}
		w.stats.Completed++
		w.stats.BytesWarmed += int64(len(payload))
		w.totalTime += time.Since(start)
	}
	w.mutex.Unlock()
	w.cond.Broadcast()
}

// Stats returns a snapshot of the counters.
func (w *Warmer) Stats() Stats {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	out := w.stats
	out.QueueDepth = w.queue.Len()
	out.InFlight = w.inFlight
	if out.Completed > 0 {
		out.AvgTimeS = w.totalTime.Seconds() / float64(out.Completed)
	}
	return out
}
