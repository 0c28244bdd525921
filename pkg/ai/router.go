package ai

// Provider identifies an inference backend.
type Provider string

const (
	ProviderLocal        Provider = "local"
	ProviderCloudFast    Provider = "cloud_fast"
	ProviderCloudSmart   Provider = "cloud_smart"
	ProviderCloudGeneral Provider = "cloud_general"
)

// providerOrder is the canonical fallback priority.
var providerOrder = []Provider{ProviderLocal, ProviderCloudFast, ProviderCloudSmart, ProviderCloudGeneral}

// costPerMillion is USD per million tokens, input and output combined.
var costPerMillion = map[Provider]float64{
	ProviderLocal:        0,
	ProviderCloudFast:    0,
	ProviderCloudSmart:   3.0,
	ProviderCloudGeneral: 10.0,
}

// TaskType classifies a request for routing.
type TaskType string

const (
	TaskGenreClassification TaskType = "genre_classification"
	TaskAudioAnalysis       TaskType = "audio_analysis"
	TaskCreative            TaskType = "creative"
	TaskFactual             TaskType = "factual"
	TaskToolCalling         TaskType = "tool_calling"
	TaskSummarization       TaskType = "summarization"
	TaskTranscription       TaskType = "transcription"
)

// RoutePriority expresses what the caller optimizes for.
type RoutePriority string

const (
	PrioritySpeed   RoutePriority = "speed"
	PriorityQuality RoutePriority = "quality"
	PriorityCost    RoutePriority = "cost"
)

type routeKey struct {
	task     TaskType
	priority RoutePriority
}

// localTokenLimit is the context size beyond which the local model is
// skipped in favor of the fast cloud tier.
const localTokenLimit = 8192

// Router maps (task, priority) pairs to providers via a decision table.
type Router struct {
	table map[routeKey]Provider
}

// NewRouter builds the decision table. Tool calling always lands on the
// general cloud provider, which is the only one with tool support.
func NewRouter() *Router {
	table := map[routeKey]Provider{
		{TaskGenreClassification, PrioritySpeed}:   ProviderLocal,
		{TaskGenreClassification, PriorityQuality}: ProviderCloudFast,
		{TaskGenreClassification, PriorityCost}:    ProviderLocal,

		{TaskAudioAnalysis, PrioritySpeed}:   ProviderLocal,
		{TaskAudioAnalysis, PriorityQuality}: ProviderCloudSmart,
		{TaskAudioAnalysis, PriorityCost}:    ProviderLocal,

		{TaskCreative, PrioritySpeed}:   ProviderCloudFast,
		{TaskCreative, PriorityQuality}: ProviderCloudSmart,
		{TaskCreative, PriorityCost}:    ProviderCloudFast,

		{TaskFactual, PrioritySpeed}:   ProviderCloudFast,
		{TaskFactual, PriorityQuality}: ProviderCloudSmart,
		{TaskFactual, PriorityCost}:    ProviderLocal,

		{TaskToolCalling, PrioritySpeed}:   ProviderCloudGeneral,
		{TaskToolCalling, PriorityQuality}: ProviderCloudGeneral,
		{TaskToolCalling, PriorityCost}:    ProviderCloudGeneral,

		{TaskSummarization, PrioritySpeed}:   ProviderLocal,
		{TaskSummarization, PriorityQuality}: ProviderCloudSmart,
		{TaskSummarization, PriorityCost}:    ProviderLocal,

		{TaskTranscription, PrioritySpeed}:   ProviderCloudFast,
		{TaskTranscription, PriorityQuality}: ProviderCloudGeneral,
		{TaskTranscription, PriorityCost}:    ProviderLocal,
	}
	return &Router{table: table}
}

// Route selects the provider for a request. Unknown combinations default
// to the local model; oversized contexts promote local to the fast tier.
func (r *Router) Route(task TaskType, priority RoutePriority, expectedTokens int) Provider {
	provider, ok := r.table[routeKey{task, priority}]
	if !ok {
		provider = ProviderLocal
	}
	if provider == ProviderLocal && expectedTokens > localTokenLimit {
		provider = ProviderCloudFast
	}
	return provider
}

// FallbackChain returns the remaining providers in priority order with
// the primary removed.
func (r *Router) FallbackChain(primary Provider) []Provider {
	out := make([]Provider, 0, len(providerOrder)-1)
	for _, p := range providerOrder {
		if p != primary {
			out = append(out, p)
		}
	}
	return out
}

// EstimateCost returns the projected USD cost for a request.
func EstimateCost(provider Provider, inTokens, outTokens int) float64 {
	return float64(inTokens+outTokens) / 1e6 * costPerMillion[provider]
}
