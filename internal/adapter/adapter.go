// Package adapter implements the data-source adapters a pipeline run fans
// out over: HTTP APIs, uploaded files, and web scrapes. Each adapter
// normalizes whatever it reads into flat AdapterRecords; the orchestrator
// in internal/ingest owns error isolation across sources.
package adapter

import (
	"context"

	"github.com/tributary-data/tributary/internal/domain"
)

// Adapter fetches records from a single configured source. Implementations
// respect ctx cancellation and return AdapterError (wrapping the cause) for
// fetch failures and ConfigError for setup problems.
type Adapter interface {
	Fetch(ctx context.Context) ([]domain.AdapterRecord, error)
}
