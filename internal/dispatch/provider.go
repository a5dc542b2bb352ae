package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUnavailable marks a transient provider failure (network error or
// 5xx-equivalent). The worker retries these; anything else is permanent.
var ErrUnavailable = errors.New("generation provider unavailable")

// Request is the outbound generation call. The idempotency key makes a
// retried call safe: a provider that already started or finished the
// original must not produce or bill a second asset.
type Request struct {
	IdempotencyKey uuid.UUID       `json:"idempotency_key"`
	Type           string          `json:"type"`
	Prompt         string          `json:"prompt"`
	Model          string          `json:"model"`
	Parameters     json.RawMessage `json:"parameters,omitempty"`
}

// Result is a successful provider response. ActualCredits may be zero, in
// which case the reconciler charges the estimate.
type Result struct {
	ResultRef     string `json:"result_ref"`
	ActualCredits int64  `json:"actual_credits"`
}

type Provider interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// HTTPProvider calls a generation service over HTTP. The idempotency key
// rides both the body and a header so intermediaries can dedupe.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

var _ Provider = (*HTTPProvider)(nil)

func (p *HTTPProvider) Generate(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey.String())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call provider: %w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("provider returned %d: %w", resp.StatusCode, ErrUnavailable)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider rejected request with status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	if result.ResultRef == "" {
		return nil, errors.New("provider returned empty result_ref")
	}
	return &result, nil
}

// Registry resolves a provider name to a Provider. Names come from
// ProviderForModel at submission time.
type Registry struct {
	providers map[string]Provider
	fallback  Provider
}

func NewRegistry(fallback Provider) *Registry {
	return &Registry{providers: make(map[string]Provider), fallback: fallback}
}

func (r *Registry) Register(name string, p Provider) {
	r.providers[name] = p
}

func (r *Registry) Lookup(name string) Provider {
	if p, ok := r.providers[name]; ok {
		return p
	}
	return r.fallback
}

// ProviderForModel maps a model identifier to the provider that serves it.
func ProviderForModel(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "dall-e") || strings.Contains(m, "gpt"):
		return "openai"
	case strings.Contains(m, "stable-diffusion") || strings.Contains(m, "sdxl"):
		return "stability"
	case strings.Contains(m, "midjourney"):
		return "midjourney"
	case strings.Contains(m, "runway"):
		return "runway"
	}
	return "custom"
}
