package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tributary-data/tributary/internal/domain"
)

// Transient statuses worth retrying. Anything else fails the source on the
// first response.
func retryableStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	}
	return false
}

const (
	apiMaxRetries     = 2 // 3 attempts total
	apiRetryBaseDelay = 500 * time.Millisecond
)

// APIAdapter fetches JSON from a single HTTP endpoint.
type APIAdapter struct {
	url    string
	client *resty.Client
}

// NewAPIAdapter builds an adapter for cfg. defaultTimeout applies when the
// config does not set its own.
func NewAPIAdapter(cfg domain.APIConfig, defaultTimeout time.Duration) *APIAdapter {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(apiMaxRetries).
		SetRetryWaitTime(apiRetryBaseDelay).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && retryableStatus(r.StatusCode())
		})
	if len(cfg.Headers) > 0 {
		client.SetHeaders(cfg.Headers)
	}
	if cfg.BearerToken != "" {
		client.SetAuthToken(cfg.BearerToken)
	}

	return &APIAdapter{url: cfg.URL, client: client}
}

// Fetch GETs the endpoint and normalizes the JSON body: an object becomes
// one record, an array becomes one record per element. The record source is
// the endpoint URL.
func (a *APIAdapter) Fetch(ctx context.Context) ([]domain.AdapterRecord, error) {
	slog.InfoContext(ctx, "fetching api source", "url", a.url)

	resp, err := a.client.R().SetContext(ctx).Get(a.url)
	if err != nil {
		return nil, &domain.AdapterError{Source: a.url, Err: fmt.Errorf("request failed: %w", err)}
	}
	if !resp.IsSuccess() {
		return nil, &domain.AdapterError{Source: a.url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode())}
	}

	var payload any
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, &domain.AdapterError{Source: a.url, Err: fmt.Errorf("decode response: %w", err)}
	}

	switch v := payload.(type) {
	case map[string]any:
		return []domain.AdapterRecord{{Source: a.url, Data: v}}, nil
	case []any:
		records := make([]domain.AdapterRecord, 0, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, &domain.AdapterError{Source: a.url, Err: fmt.Errorf("array element %d is not an object", i)}
			}
			records = append(records, domain.AdapterRecord{Source: a.url, Data: obj})
		}
		return records, nil
	default:
		return nil, &domain.AdapterError{Source: a.url, Err: fmt.Errorf("response is neither object nor array")}
	}
}
