package warmer

import "container/heap"

// Priority orders warmup work. Higher values run first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Task is one unit of warmup work.
type Task struct {
	FileID        string
	Path          string
	FeatureType   string
	AnalysisLevel string
	Priority      Priority
	Confidence    float64

	seq uint64 // enqueue order, breaks full ties FIFO
}

// Key identifies the warmed artifact for memoization.
func (t Task) Key() string {
	return t.FileID + ":" + t.FeatureType + ":" + t.AnalysisLevel
}

// taskHeap orders by priority descending, then confidence descending,
// then enqueue order.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	if h[i].Confidence != h[j].Confidence {
		return h[i].Confidence > h[j].Confidence
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}

func (h *taskHeap) push(t *Task) { heap.Push(h, t) }

func (h *taskHeap) pop() *Task {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*Task)
}
