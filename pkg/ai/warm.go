package ai

import (
	"context"
	"net/http"
)

// WarmStats summarizes one cache-warming pass.
type WarmStats struct {
	Prompts       int `json:"prompts"`
	AlreadyCached int `json:"already_cached"`
	Warmed        int `json:"warmed"`
	Skipped       int `json:"skipped"`
	Errors        int `json:"errors"`
}

// warmTaskOrder fixes the iteration order over commonPrompts.
var warmTaskOrder = []TaskType{
	TaskGenreClassification,
	TaskAudioAnalysis,
	TaskCreative,
	TaskFactual,
	TaskSummarization,
}

// commonPrompts are the high-frequency production prompts pre-filled per
// task type so first sessions start warm.
var commonPrompts = map[TaskType][]map[string]any{
	TaskGenreClassification: {
		{"messages": []map[string]any{
			{"role": "system", "content": "You are a music genre classification expert."},
			{"role": "user", "content": "Classify this track: EDM with heavy bass, 128 BPM, synth leads"},
		}},
		{"messages": []map[string]any{
			{"role": "system", "content": "You are a music genre classification expert."},
			{"role": "user", "content": "Classify this track: Hip-hop beat, 85 BPM, trap drums, 808 bass"},
		}},
		{"messages": []map[string]any{
			{"role": "system", "content": "You are a music genre classification expert."},
			{"role": "user", "content": "Classify this track: Rock guitar, live drums, 140 BPM, distorted vocals"},
		}},
	},
	TaskAudioAnalysis: {
		{"messages": []map[string]any{
			{"role": "system", "content": "You are an audio analysis expert for music production."},
			{"role": "user", "content": "Analyze frequency spectrum: Strong low end 40-120Hz, mid scoop 400-800Hz, bright highs 8kHz+"},
		}},
		{"messages": []map[string]any{
			{"role": "system", "content": "You are an audio analysis expert for music production."},
			{"role": "user", "content": "Analyze dynamics: Peak at -6dB, RMS -18dB, high dynamic range, no compression"},
		}},
	},
	TaskCreative: {
		{"messages": []map[string]any{
			{"role": "system", "content": "You are a creative music production coach providing innovative ideas."},
			{"role": "user", "content": "Suggest creative variations for a lo-fi hip-hop beat"},
		}},
		{"messages": []map[string]any{
			{"role": "system", "content": "You are a creative music production coach providing innovative ideas."},
			{"role": "user", "content": "How can I make my EDM drop more impactful and unique?"},
		}},
	},
	TaskFactual: {
		{"messages": []map[string]any{
			{"role": "system", "content": "You are a music theory and production knowledge expert."},
			{"role": "user", "content": "Explain the circle of fifths in key modulation"},
		}},
		{"messages": []map[string]any{
			{"role": "system", "content": "You are a music theory and production knowledge expert."},
			{"role": "user", "content": "What is side-chain compression and when should I use it?"},
		}},
	},
	TaskSummarization: {
		{"messages": []map[string]any{
			{"role": "system", "content": "You are an expert at summarizing music production sessions and feedback."},
			{"role": "user", "content": "Summarize: Track has good melody, weak drums, mix needs work on bass clarity, vocals sit too low"},
		}},
	},
}

// WarmCommonPrompts pre-fills the response cache with the common-prompt
// list. Empty providers or tasks select all. Prompt failures are counted
// and logged, never fatal; providers without an endpoint are skipped.
func (r *Requester) WarmCommonPrompts(ctx context.Context, providers []Provider, tasks []TaskType) WarmStats {
	if len(providers) == 0 {
		providers = providerOrder
	}
	if len(tasks) == 0 {
		tasks = warmTaskOrder
	}

	var stats WarmStats
	for _, provider := range providers {
		endpoint := r.endpoints[provider]
		for _, task := range tasks {
			for _, prompt := range commonPrompts[task] {
				stats.Prompts++
				payload := applyGenerationDefaults(task, prompt)

				if _, ok := r.cache.Get(ctx, provider, payload); ok {
					stats.AlreadyCached++
					continue
				}
				if endpoint.URL == "" {
					stats.Skipped++
					continue
				}

				body, err := r.warmOne(ctx, provider, endpoint, payload)
				if err != nil {
					stats.Errors++
					r.logger.Warn("cache warm attempt failed",
						"provider", provider, "task", task, "error", err)
					continue
				}
				r.cache.Put(ctx, provider, payload, body, 0)
				stats.Warmed++
			}
		}
	}

	r.logger.Info("cache warming complete",
		"prompts", stats.Prompts, "warmed", stats.Warmed,
		"already_cached", stats.AlreadyCached, "skipped", stats.Skipped,
		"errors", stats.Errors)
	return stats
}

func (r *Requester) warmOne(ctx context.Context, provider Provider, endpoint Endpoint, payload map[string]any) ([]byte, error) {
	body, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{}
	if endpoint.Key != "" {
		headers["Authorization"] = "Bearer " + endpoint.Key
	}
	resp, err := r.client.Do(ctx, http.MethodPost, endpoint.URL, body, headers)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, endpoint.URL)
	}
	return resp.Body, nil
}
