// Package usage records access patterns as state transitions and predicts
// upcoming work from the resulting Markov transition matrix.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samplemind/samplemind-core/pkg/kv"
	"github.com/samplemind/samplemind-core/pkg/logging"
)

// Event is one recorded access. Events are immutable once recorded.
type Event struct {
	Timestamp        time.Time `json:"timestamp"`
	FileID           string    `json:"file_id"`
	FeatureType      string    `json:"feature_type"`
	AnalysisLevel    string    `json:"analysis_level"`
	ProcessingTimeMS float64   `json:"processing_time_ms"`
	WasCacheHit      bool      `json:"was_cache_hit"`
	SizeBytes        int64     `json:"size_bytes"`
	DurationS        float64   `json:"duration_s"`
}

// State is the transition-matrix key for this event.
func (e Event) State() string {
	return fmt.Sprintf("%s:%s:%s", e.FileID, e.FeatureType, e.AnalysisLevel)
}

// Transition is a possible next state with its observed probability.
type Transition struct {
	State       string  `json:"state"`
	Probability float64 `json:"probability"`
}

// SequencePattern is a recurring run of three consecutive states.
type SequencePattern struct {
	States [3]string `json:"states"`
	Count  int       `json:"count"`
}

// TrackerConfig bounds the tracker's memory and retention.
type TrackerConfig struct {
	HistoryLimit int           `json:"history_limit"`
	Window       time.Duration `json:"window"`
	Namespace    string        `json:"namespace"`
}

// DefaultTrackerConfig keeps the most recent 1000 events and a 30-day
// transition window.
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		HistoryLimit: 1000,
		Window:       30 * 24 * time.Hour,
		Namespace:    "samplemind",
	}
}

// TrackerStats summarizes recorded activity.
type TrackerStats struct {
	Events           int64   `json:"events"`
	CacheHits        int64   `json:"cache_hits"`
	CacheMisses      int64   `json:"cache_misses"`
	MeanProcessingMS float64 `json:"mean_processing_ms"`
	States           int     `json:"states"`
}

type transitionCell struct {
	count    int64
	lastSeen time.Time
}

// Tracker maintains the transition matrix. Recording holds the lock only
// for the counter updates; persistence happens off the critical section.
type Tracker struct {
	config *TrackerConfig
	remote kv.Store // nil disables persistence
	logger *logging.Logger
	now    func() time.Time

	mutex       sync.Mutex
	prevState   string
	transitions map[string]map[string]*transitionCell
	history     []string
	events      []Event
	stats       TrackerStats

	wg sync.WaitGroup
}

// NewTracker builds a tracker. remote may be nil.
func NewTracker(config *TrackerConfig, remote kv.Store, logger *logging.Logger) *Tracker {
	if config == nil {
		config = DefaultTrackerConfig()
	}
	if logger == nil {
		logger = logging.NewLogger(nil, nil)
	}
	return &Tracker{
		config:      config,
		remote:      remote,
		logger:      logger.WithComponent("usage"),
		now:         time.Now,
		transitions: make(map[string]map[string]*transitionCell),
	}
}

// RecordEvent updates the matrix with the transition from the previously
// recorded state and appends the event to the bounded tail. The event is
// persisted to the remote store asynchronously; persistence failures are
// logged and never surfaced.
func (t *Tracker) RecordEvent(ctx context.Context, e Event) {
	now := t.now()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	state := e.State()

	t.mutex.Lock()
	t.pruneLocked(now)

	if t.prevState != "" {
		row := t.transitions[t.prevState]
		if row == nil {
			row = make(map[string]*transitionCell)
			t.transitions[t.prevState] = row
		}
		cell := row[state]
		if cell == nil {
			cell = &transitionCell{}
			row[state] = cell
		}
		cell.count++
		cell.lastSeen = now
	}
	t.prevState = state

	t.history = append(t.history, state)
	if len(t.history) > t.config.HistoryLimit {
		t.history = t.history[len(t.history)-t.config.HistoryLimit:]
	}
	t.events = append(t.events, e)
	if len(t.events) > t.config.HistoryLimit {
		t.events = t.events[len(t.events)-t.config.HistoryLimit:]
	}

	t.stats.Events++
	if e.WasCacheHit {
		t.stats.CacheHits++
	} else {
		t.stats.CacheMisses++
	}
	t.stats.MeanProcessingMS += (e.ProcessingTimeMS - t.stats.MeanProcessingMS) / float64(t.stats.Events)
	t.mutex.Unlock()

	if t.remote != nil {
		t.wg.Add(1)
		go t.persist(ctx, e)
	}
}

func (t *Tracker) persist(ctx context.Context, e Event) {
	defer t.wg.Done()
	payload, err := json.Marshal(e)
	if err != nil {
		t.logger.Warn("usage event marshal failed", "file_id", e.FileID, "error", err)
		return
	}
	key := kv.BuildKey(t.config.Namespace, "usage", "event",
		fmt.Sprintf("%d", e.Timestamp.UnixNano()), e.FileID)
	if err := t.remote.Set(ctx, key, payload, t.config.Window); err != nil {
		t.logger.Warn("usage event persist failed", "file_id", e.FileID, "error", err)
	}
}

// pruneLocked drops transitions not seen within the window. Rows that
// empty out are removed entirely.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.config.Window)
	for from, row := range t.transitions {
		for to, cell := range row {
			if cell.lastSeen.Before(cutoff) {
				delete(row, to)
			}
		}
		if len(row) == 0 {
			delete(t.transitions, from)
		}
	}
}

// Probabilities returns the normalized outgoing transition row for state.
func (t *Tracker) Probabilities(state string) map[string]float64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.pruneLocked(t.now())

	row := t.transitions[state]
	if len(row) == 0 {
		return nil
	}
	var total int64
	for _, cell := range row {
		total += cell.count
	}
	out := make(map[string]float64, len(row))
	for to, cell := range row {
		out[to] = float64(cell.count) / float64(total)
	}
	return out
}

// TopTransitions returns the n most probable next states, descending.
// Ties break on state name for determinism.
func (t *Tracker) TopTransitions(state string, n int) []Transition {
	probs := t.Probabilities(state)
	if len(probs) == 0 {
		return nil
	}
	out := make([]Transition, 0, len(probs))
	for to, p := range probs {
		out = append(out, Transition{State: to, Probability: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		return out[i].State < out[j].State
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// FrequentSequences mines the recent history for the n most common runs
// of three consecutive states.
func (t *Tracker) FrequentSequences(n int) []SequencePattern {
	t.mutex.Lock()
	history := make([]string, len(t.history))
	copy(history, t.history)
	t.mutex.Unlock()

	if len(history) < 3 {
		return nil
	}
	counts := make(map[[3]string]int)
	for i := 0; i+2 < len(history); i++ {
		counts[[3]string{history[i], history[i+1], history[i+2]}]++
	}
	out := make([]SequencePattern, 0, len(counts))
	for seq, count := range counts {
		out = append(out, SequencePattern{States: seq, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].States[0] < out[j].States[0]
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// RecentEvents returns a copy of the bounded event tail, oldest first.
func (t *Tracker) RecentEvents() []Event {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Stats returns a snapshot of the counters.
func (t *Tracker) Stats() TrackerStats {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	out := t.stats
	out.States = len(t.transitions)
	return out
}

// Flush waits for in-flight persistence writes.
func (t *Tracker) Flush() {
	t.wg.Wait()
}
