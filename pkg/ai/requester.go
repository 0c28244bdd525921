package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/samplemind/samplemind-core/pkg/config"
	"github.com/samplemind/samplemind-core/pkg/logging"
	"github.com/samplemind/samplemind-core/pkg/metrics"
	"github.com/samplemind/samplemind-core/pkg/smerrors"
)

// Endpoint is one provider's HTTP target.
type Endpoint struct {
	URL string
	Key string
}

// Result is a completed inference request.
type Result struct {
	Provider Provider        `json:"provider"`
	Body     json.RawMessage `json:"body"`
	Cached   bool            `json:"cached"`
	Attempts int             `json:"attempts"`
}

// Requester routes a request, consults the cache, and walks the
// fallback chain until a provider answers.
type Requester struct {
	router    *Router
	cache     *Cache
	client    *Client
	endpoints map[Provider]Endpoint
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// NewRequester wires the router, cache, and shared client against the
// configured provider endpoints.
func NewRequester(cfg *config.Config, cache *Cache, client *Client, logger *logging.Logger, m *metrics.Metrics) *Requester {
	if logger == nil {
		logger = logging.NewLogger(nil, nil)
	}
	if m == nil {
		m = metrics.Nop()
	}
	endpoints := map[Provider]Endpoint{
		ProviderLocal:        {URL: cfg.LocalURL},
		ProviderCloudFast:    {URL: cfg.CloudFastURL, Key: cfg.CloudFastKey},
		ProviderCloudSmart:   {URL: cfg.CloudSmartURL, Key: cfg.CloudSmartKey},
		ProviderCloudGeneral: {URL: cfg.CloudGeneralURL, Key: cfg.CloudGeneralKey},
	}
	return &Requester{
		router:    NewRouter(),
		cache:     cache,
		client:    client,
		endpoints: endpoints,
		logger:    logger.WithComponent("ai.requester"),
		metrics:   m,
	}
}

// Router exposes the routing table for cost estimation callers.
func (r *Requester) Router() *Router {
	return r.router
}

// Request routes and executes an inference call. The payload is completed
// from the task's generation profile, then each provider in the chain is
// consulted against the cache before its endpoint is attempted. Exhausting
// the chain returns a resource error wrapping the last provider failure.
func (r *Requester) Request(ctx context.Context, task TaskType, priority RoutePriority, expectedTokens int, payload map[string]any) (*Result, error) {
	primary := r.router.Route(task, priority, expectedTokens)
	chain := append([]Provider{primary}, r.router.FallbackChain(primary)...)

	payload = applyGenerationDefaults(task, payload)
	body, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	attempts := 0
	var lastErr error
	for _, provider := range chain {
		if cached, ok := r.cache.Get(ctx, provider, payload); ok {
			r.metrics.AIRequests.WithLabelValues(string(provider), "cache_hit").Inc()
			return &Result{Provider: provider, Body: cached, Cached: true, Attempts: attempts}, nil
		}

		endpoint, ok := r.endpoints[provider]
		if !ok || endpoint.URL == "" {
			continue
		}
		attempts++

		headers := map[string]string{}
		if endpoint.Key != "" {
			headers["Authorization"] = "Bearer " + endpoint.Key
		}
		resp, err := r.client.Do(ctx, http.MethodPost, endpoint.URL, body, headers)
		if err == nil && resp.StatusCode >= 400 {
			err = statusError(resp.StatusCode, endpoint.URL)
		}
		if err != nil {
			lastErr = err
			r.metrics.AIRequests.WithLabelValues(string(provider), "error").Inc()
			r.logger.Warn("provider attempt failed, falling back",
				"provider", provider, "task", task, "error", err)
			continue
		}

		r.metrics.AIRequests.WithLabelValues(string(provider), "success").Inc()
		r.cache.Put(ctx, provider, payload, resp.Body, 0)
		return &Result{Provider: provider, Body: resp.Body, Attempts: attempts}, nil
	}

	if lastErr == nil {
		lastErr = smerrors.New(smerrors.KindInvalidInput, "ai", "no provider endpoints configured")
	}
	return nil, smerrors.Wrap(lastErr, smerrors.KindExhausted, "ai",
		"all providers failed ("+strings.Join(providerNames(chain), ", ")+")")
}

func encodePayload(payload map[string]any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, smerrors.Wrap(err, smerrors.KindInvalidInput, "ai", "payload not serializable")
	}
	return body, nil
}

func providerNames(chain []Provider) []string {
	out := make([]string, len(chain))
	for i, p := range chain {
		out[i] = string(p)
	}
	return out
}
