package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/tributary-data/tributary/internal/domain"
)

// CrawlSpec tells a Crawler what to extract. Exactly one of Schema and
// Prompt is set.
type CrawlSpec struct {
	Schema       map[string]any `json:"schema,omitempty"`
	Prompt       string         `json:"prompt,omitempty"`
	LLMProvider  string         `json:"llm_provider,omitempty"`
	APIKey       string         `json:"api_key,omitempty"`
	OutputFormat string         `json:"output_format,omitempty"`
	CacheMode    string         `json:"cache_mode,omitempty"`
	Verbose      bool           `json:"verbose,omitempty"`
}

// CrawlResult is the per-URL outcome of a crawl.
type CrawlResult struct {
	URL       string          `json:"url"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	Extracted json.RawMessage `json:"extracted_content,omitempty"`
}

// Crawler is the pluggable browse-and-extract capability the scrape adapter
// builds on. The production implementation talks to a headless crawler
// sidecar over HTTP; tests substitute a fake.
type Crawler interface {
	Crawl(ctx context.Context, urls []string, spec CrawlSpec) ([]CrawlResult, error)
}

// ScrapeDefaults fill gaps in a scrape config from service configuration.
type ScrapeDefaults struct {
	Prompt      string
	LLMProvider string
	CacheMode   string
}

// ScrapeAdapter extracts structured records from web pages via a Crawler.
type ScrapeAdapter struct {
	urls    []string
	spec    CrawlSpec
	crawler Crawler
}

// NewScrapeAdapter resolves the extraction mode for cfg. The schema
// document, when present, is parsed here (YAML or JSON — schema files are
// commonly authored as either) so a malformed document fails setup rather
// than mid-run. With no schema the prompt applies, falling back to the
// configured default; having neither is a ConfigError.
func NewScrapeAdapter(cfg domain.ScrapeConfig, crawler Crawler, defaults ScrapeDefaults) (*ScrapeAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if crawler == nil {
		return nil, &domain.ConfigError{Msg: "no crawler configured for scrape sources"}
	}

	spec := CrawlSpec{
		LLMProvider:  orDefault(cfg.LLMProvider, defaults.LLMProvider),
		APIKey:       cfg.APIKey,
		OutputFormat: cfg.OutputFormat,
		CacheMode:    orDefault(cfg.CacheMode, defaults.CacheMode),
		Verbose:      cfg.Verbose,
	}
	if cfg.SchemaDoc != "" {
		var schema map[string]any
		if err := yaml.Unmarshal([]byte(cfg.SchemaDoc), &schema); err != nil {
			return nil, &domain.ConfigError{Msg: fmt.Sprintf("invalid schema document: %v", err)}
		}
		spec.Schema = schema
	} else {
		spec.Prompt = orDefault(cfg.Prompt, defaults.Prompt)
		if spec.Prompt == "" {
			return nil, &domain.ConfigError{Msg: "scrape source requires a schema_doc or a prompt"}
		}
	}

	return &ScrapeAdapter{urls: cfg.URLs, spec: spec, crawler: crawler}, nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// Fetch crawls every configured URL. Pages that fail or extract nothing are
// dropped with a warning; the remaining extractions are flattened into
// records annotated with their source_url.
func (a *ScrapeAdapter) Fetch(ctx context.Context) ([]domain.AdapterRecord, error) {
	slog.InfoContext(ctx, "scraping sources", "url_count", len(a.urls))

	results, err := a.crawler.Crawl(ctx, a.urls, a.spec)
	if err != nil {
		return nil, &domain.AdapterError{Source: "scrape", Err: fmt.Errorf("crawl failed: %w", err)}
	}

	var records []domain.AdapterRecord
	for _, res := range results {
		if !res.Success {
			slog.WarnContext(ctx, "scrape failed for url", "url", res.URL, "error", res.Error)
			continue
		}
		if len(res.Extracted) == 0 {
			slog.WarnContext(ctx, "scrape extracted no content", "url", res.URL)
			continue
		}

		var extracted any
		if err := json.Unmarshal(res.Extracted, &extracted); err != nil {
			slog.WarnContext(ctx, "scrape extraction is not valid json", "url", res.URL, "error", err)
			continue
		}

		switch v := extracted.(type) {
		case map[string]any:
			records = append(records, scrapeRecord(v, res.URL))
		case []any:
			for _, item := range v {
				obj, ok := item.(map[string]any)
				if !ok {
					slog.WarnContext(ctx, "skipping non-object extraction item", "url", res.URL)
					continue
				}
				records = append(records, scrapeRecord(obj, res.URL))
			}
		case nil:
			slog.WarnContext(ctx, "scrape extracted null content", "url", res.URL)
		default:
			slog.WarnContext(ctx, "scrape extraction has unexpected shape", "url", res.URL)
		}
	}
	return records, nil
}

func scrapeRecord(data map[string]any, url string) domain.AdapterRecord {
	data["source_url"] = url
	return domain.AdapterRecord{Source: "scrape", Data: data}
}
