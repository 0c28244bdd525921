package analysis

import (
	"sync"
	"time"

	"github.com/samplemind/samplemind-core/pkg/audio"
)

// BackendTag names an extraction backend.
type BackendTag string

const (
	// BackendFast is the default production backend.
	BackendFast BackendTag = "fast"

	// BackendReference trades speed for finer frequency resolution; used
	// when Fast fails or when callers ask for it explicitly.
	BackendReference BackendTag = "reference"
)

// BackendStats tracks per-backend attempt outcomes.
type BackendStats struct {
	Attempts      int64         `json:"attempts"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
}

// backend binds an extractor geometry to its tag and stats.
type backend struct {
	tag       BackendTag
	extractor *extractor

	mutex sync.Mutex
	stats BackendStats
}

func newBackend(tag BackendTag) *backend {
	geometry := &extractor{frameSize: 2048, hop: 512}
	if tag == BackendReference {
		geometry = &extractor{frameSize: 4096, hop: 1024}
	}
	return &backend{tag: tag, extractor: geometry}
}

// run executes one extraction, recording stats. The returned bundle carries
// the backend tag.
func (b *backend) run(buf *audio.Buffer, level Level) (bundle *FeatureBundle, err error) {
	start := time.Now()
	defer func() {
		b.mutex.Lock()
		b.stats.Attempts++
		b.stats.TotalDuration += time.Since(start)
		if err != nil {
			b.stats.Errors++
		}
		b.mutex.Unlock()
	}()

	bundle = b.extractor.extract(buf, level)
	bundle.BackendTag = string(b.tag)
	bundle.AnalysisTimeS = time.Since(start).Seconds()
	return bundle, nil
}

// Stats returns a copy of the accumulated counters.
func (b *backend) Stats() BackendStats {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.stats
}

// HPSSRuns reports how many separations this backend has computed.
func (b *backend) HPSSRuns() int64 {
	return b.extractor.hpssRuns.Load()
}
