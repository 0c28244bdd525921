package usage

import (
	"math"
	"sort"
	"sync"
)

const (
	defaultThreshold = 0.60
	thresholdFloor   = 0.40
	thresholdCeiling = 0.80
	thresholdStep    = 0.05

	lookaheadDecay = 0.3
)

// Prediction is a ranked next-state candidate.
type Prediction struct {
	State      string  `json:"state"`
	Confidence float64 `json:"confidence"`
	StepsAhead int     `json:"steps_ahead"`
}

// PredictorConfig tunes prediction filtering and threshold adaptation.
type PredictorConfig struct {
	Threshold      float64 `json:"threshold"`
	AccuracyWindow int     `json:"accuracy_window"`
	HistoryLimit   int     `json:"history_limit"`
	MinSamples     int     `json:"min_samples"`
}

// DefaultPredictorConfig starts at the midpoint of the adaptive range and
// adapts on a rolling 100-outcome window.
func DefaultPredictorConfig() *PredictorConfig {
	return &PredictorConfig{
		Threshold:      defaultThreshold,
		AccuracyWindow: 100,
		HistoryLimit:   1000,
		MinSamples:     10,
	}
}

// Predictor ranks next states from the tracker's matrix and adapts its
// confidence threshold to observed prediction accuracy.
type Predictor struct {
	config  *PredictorConfig
	tracker *Tracker

	mutex     sync.Mutex
	threshold float64
	outcomes  []bool
}

// NewPredictor builds a predictor over the given tracker.
func NewPredictor(config *PredictorConfig, tracker *Tracker) *Predictor {
	if config == nil {
		config = DefaultPredictorConfig()
	}
	return &Predictor{
		config:    config,
		tracker:   tracker,
		threshold: config.Threshold,
	}
}

// Threshold returns the current confidence threshold.
func (p *Predictor) Threshold() float64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.threshold
}

// PredictNext returns up to topN next states with confidence at or above
// the current threshold, descending.
func (p *Predictor) PredictNext(state string, topN int) []Prediction {
	threshold := p.Threshold()
	out := make([]Prediction, 0, topN)
	for _, tr := range p.tracker.TopTransitions(state, 0) {
		if tr.Probability < threshold {
			continue
		}
		out = append(out, Prediction{State: tr.State, Confidence: tr.Probability, StepsAhead: 1})
		if topN > 0 && len(out) == topN {
			break
		}
	}
	return out
}

// Lookahead expands breadth-first up to depth steps. A candidate at depth
// d contributes its path probability scaled by 1/(1+0.3·(d−1)); a state
// reached by several paths or depths accumulates its contributions,
// capped at 1.0, and keeps the earliest depth. Results at or above the
// threshold are returned descending.
func (p *Predictor) Lookahead(state string, depth, topN int) []Prediction {
	if depth < 1 {
		depth = 1
	}
	threshold := p.Threshold()

	merged := make(map[string]Prediction)
	frontier := map[string]float64{state: 1}
	for d := 1; d <= depth; d++ {
		discount := 1 / (1 + lookaheadDecay*float64(d-1))
		next := make(map[string]float64)
		for from, pathProb := range frontier {
			for to, prob := range p.tracker.Probabilities(from) {
				reach := pathProb * prob
				if reach > next[to] {
					next[to] = reach
				}
				score := reach * discount
				if prior, ok := merged[to]; ok {
					prior.Confidence = math.Min(1, prior.Confidence+score)
					merged[to] = prior
				} else {
					merged[to] = Prediction{State: to, Confidence: score, StepsAhead: d}
				}
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}

	out := make([]Prediction, 0, len(merged))
	for _, pr := range merged {
		if pr.Confidence >= threshold {
			out = append(out, pr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].State < out[j].State
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// EvaluatePrediction records whether a prediction proved correct and
// adapts the threshold: sustained accuracy above 0.80 loosens it, below
// 0.60 tightens it, clamped to [0.40, 0.80].
func (p *Predictor) EvaluatePrediction(wasCorrect bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.outcomes = append(p.outcomes, wasCorrect)
	if len(p.outcomes) > p.config.HistoryLimit {
		p.outcomes = p.outcomes[len(p.outcomes)-p.config.HistoryLimit:]
	}
	if len(p.outcomes) < p.config.MinSamples {
		return
	}

	accuracy := p.accuracyLocked(p.config.AccuracyWindow)
	switch {
	case accuracy > 0.80:
		p.threshold -= thresholdStep
		if p.threshold < thresholdFloor {
			p.threshold = thresholdFloor
		}
	case accuracy < 0.60:
		p.threshold += thresholdStep
		if p.threshold > thresholdCeiling {
			p.threshold = thresholdCeiling
		}
	}
}

// RecentAccuracy returns the fraction of correct outcomes over the most
// recent window entries. Zero history reports zero.
func (p *Predictor) RecentAccuracy(window int) float64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.accuracyLocked(window)
}

func (p *Predictor) accuracyLocked(window int) float64 {
	tail := p.outcomes
	if window > 0 && len(tail) > window {
		tail = tail[len(tail)-window:]
	}
	if len(tail) == 0 {
		return 0
	}
	correct := 0
	for _, ok := range tail {
		if ok {
			correct++
		}
	}
	return float64(correct) / float64(len(tail))
}
