// Package ingest orchestrates a pipeline run's data collection: it builds
// an adapter per configured source, executes them under the selected
// strategy, and aggregates the records into a single OutputData.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tributary-data/tributary/internal/adapter"
	"github.com/tributary-data/tributary/internal/domain"
)

// Defaults hold service-level fallbacks applied when a source config leaves
// a field unset.
type Defaults struct {
	APITimeout         time.Duration
	ScraperPrompt      string
	ScraperLLMProvider string
	ScraperCacheMode   string
}

// Orchestrator runs ingestion for pipeline configs.
type Orchestrator struct {
	defaults Defaults
	crawler  adapter.Crawler // nil when no crawler sidecar is configured
}

// New builds an orchestrator. crawler may be nil; scrape sources then fail
// at setup.
func New(defaults Defaults, crawler adapter.Crawler) *Orchestrator {
	return &Orchestrator{defaults: defaults, crawler: crawler}
}

// Run executes the config's sources under its strategy. An empty strategy
// means simple. Unknown strategies are a ConfigError.
func (o *Orchestrator) Run(ctx context.Context, cfg domain.IngestConfig) (*domain.OutputData, error) {
	switch cfg.Strategy {
	case "", domain.StrategySimple:
		return o.runSimple(ctx, cfg.Sources)
	case domain.StrategyML:
		return o.runML(ctx, cfg.Sources)
	default:
		return nil, &domain.ConfigError{Msg: fmt.Sprintf("unknown ingestion strategy %q", cfg.Strategy)}
	}
}

// runSimple visits sources in configured order. A failing source is logged
// and skipped; it never aborts the others. The aggregate carries
// source_count and record_count metadata and is never unified.
func (o *Orchestrator) runSimple(ctx context.Context, sources []domain.SourceConfig) (*domain.OutputData, error) {
	records := make([]domain.AdapterRecord, 0)
	for i, src := range sources {
		a, err := o.adapterFor(src)
		if err != nil {
			slog.ErrorContext(ctx, "skipping misconfigured source", "index", i, "type", src.Type, "error", err)
			continue
		}
		fetched, err := a.Fetch(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "source fetch failed", "index", i, "type", src.Type, "error", err)
			continue
		}
		slog.InfoContext(ctx, "source ingested", "index", i, "type", src.Type, "records", len(fetched))
		records = append(records, fetched...)
	}

	return &domain.OutputData{
		Records: records,
		Unified: false,
		Metadata: map[string]any{
			"source_count": len(sources),
			"record_count": len(records),
		},
	}, nil
}

// runML is a stub for schema-unifying ingestion. It collects nothing and
// reports itself as not implemented.
//
// TODO: implement record unification once the embedding-based schema
// matcher service is available.
func (o *Orchestrator) runML(ctx context.Context, sources []domain.SourceConfig) (*domain.OutputData, error) {
	slog.WarnContext(ctx, "ml strategy is not implemented, returning empty output")
	return &domain.OutputData{
		Records: []domain.AdapterRecord{},
		Unified: true,
		Metadata: map[string]any{
			"source_count": len(sources),
			"record_count": 0,
			"message":      "ml strategy not implemented",
		},
	}, nil
}

func (o *Orchestrator) adapterFor(src domain.SourceConfig) (adapter.Adapter, error) {
	switch src.Type {
	case domain.SourceAPI:
		if src.API == nil {
			return nil, &domain.ConfigError{Msg: "api source has no config"}
		}
		return adapter.NewAPIAdapter(*src.API, o.defaults.APITimeout), nil
	case domain.SourceFile:
		if src.File == nil {
			return nil, &domain.ConfigError{Msg: "file source has no config"}
		}
		return adapter.NewFileAdapter(*src.File)
	case domain.SourceScrape:
		if src.Scrape == nil {
			return nil, &domain.ConfigError{Msg: "scrape source has no config"}
		}
		return adapter.NewScrapeAdapter(*src.Scrape, o.crawler, adapter.ScrapeDefaults{
			Prompt:      o.defaults.ScraperPrompt,
			LLMProvider: o.defaults.ScraperLLMProvider,
			CacheMode:   o.defaults.ScraperCacheMode,
		})
	default:
		return nil, &domain.ConfigError{Msg: fmt.Sprintf("unknown source type %q", src.Type)}
	}
}
