package ai

// StreamingMode controls whether a task's responses are streamed.
type StreamingMode string

const (
	StreamingDisabled StreamingMode = "disabled"
	StreamingEnabled  StreamingMode = "enabled"
	StreamingAuto     StreamingMode = "auto"
)

// GenerationConfig is the per-task generation profile applied to
// requests that do not set the fields themselves.
type GenerationConfig struct {
	MaxTokens   int
	Temperature float64
	Streaming   StreamingMode
}

// autoStreamLength is the prompt size beyond which Auto mode streams.
const autoStreamLength = 500

var taskConfigs = map[TaskType]GenerationConfig{
	TaskGenreClassification: {MaxTokens: 100, Temperature: 0.1, Streaming: StreamingDisabled},
	TaskAudioAnalysis:       {MaxTokens: 500, Temperature: 0.3, Streaming: StreamingDisabled},
	TaskCreative:            {MaxTokens: 2000, Temperature: 0.8, Streaming: StreamingEnabled},
	TaskFactual:             {MaxTokens: 300, Temperature: 0.2, Streaming: StreamingDisabled},
	TaskToolCalling:         {MaxTokens: 1000, Temperature: 0.1, Streaming: StreamingDisabled},
	TaskSummarization:       {MaxTokens: 500, Temperature: 0.3, Streaming: StreamingAuto},
	TaskTranscription:       {MaxTokens: 1500, Temperature: 0.2, Streaming: StreamingAuto},
}

// TaskConfig returns the generation profile for a task. Unknown tasks get
// a balanced default with Auto streaming.
func TaskConfig(task TaskType) GenerationConfig {
	if cfg, ok := taskConfigs[task]; ok {
		return cfg
	}
	return GenerationConfig{MaxTokens: 1000, Temperature: 0.5, Streaming: StreamingAuto}
}

// ShouldStream resolves the task's streaming mode. Auto streams long
// prompts and the open-ended creative and summarization tasks.
func ShouldStream(task TaskType, contentLength int) bool {
	switch TaskConfig(task).Streaming {
	case StreamingEnabled:
		return true
	case StreamingDisabled:
		return false
	}
	if contentLength > autoStreamLength {
		return true
	}
	return task == TaskCreative || task == TaskSummarization
}

// applyGenerationDefaults returns a copy of the payload with max_tokens,
// temperature, and stream filled from the task profile where the caller
// left them unset.
func applyGenerationDefaults(task TaskType, payload map[string]any) map[string]any {
	cfg := TaskConfig(task)
	out := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		out[k] = v
	}
	if _, ok := out["max_tokens"]; !ok {
		out["max_tokens"] = cfg.MaxTokens
	}
	if _, ok := out["temperature"]; !ok {
		out["temperature"] = cfg.Temperature
	}
	if _, ok := out["stream"]; !ok {
		out["stream"] = ShouldStream(task, promptLength(payload))
	}
	return out
}

// promptLength sums the content bytes of the payload's chat messages.
func promptLength(payload map[string]any) int {
	total := 0
	switch msgs := payload["messages"].(type) {
	case []any:
		for _, m := range msgs {
			if mm, ok := m.(map[string]any); ok {
				if s, ok := mm["content"].(string); ok {
					total += len(s)
				}
			}
		}
	case []map[string]any:
		for _, mm := range msgs {
			if s, ok := mm["content"].(string); ok {
				total += len(s)
			}
		}
	}
	return total
}
