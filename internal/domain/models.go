// Package domain defines the core business types shared across tributaryd.
// These types represent the pipeline data model — not HTTP specifics.
//
// Domain types carry json tags because they are directly serialized both in
// API responses and in the document stores. Having separate wire types for
// every domain model would add boilerplate without measurable benefit; when
// the API shape diverges (e.g. request bodies), the api package defines its
// own structs.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PipelineStatus represents the execution state of a pipeline.
type PipelineStatus string

const (
	StatusInactive PipelineStatus = "INACTIVE"
	StatusActive   PipelineStatus = "ACTIVE"
	StatusFailed   PipelineStatus = "FAILED"
)

// RunFrequency represents how often a pipeline recurs.
type RunFrequency string

const (
	FrequencyDaily   RunFrequency = "DAILY"
	FrequencyWeekly  RunFrequency = "WEEKLY"
	FrequencyMonthly RunFrequency = "MONTHLY"
)

// ValidFrequency checks if a string is a known run frequency.
func ValidFrequency(s string) bool {
	switch RunFrequency(s) {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// Ingestion strategies. Simple is the default when the config leaves the
// strategy empty.
const (
	StrategySimple = "simple"
	StrategyML     = "ml"
)

// Pipeline is a registered data-integration pipeline.
type Pipeline struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Status      PipelineStatus `json:"status"`
	Config      PipelineConfig `json:"config"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Clone returns a deep copy. Stores hand out clones so callers can mutate
// freely without aliasing the stored record.
func (p *Pipeline) Clone() *Pipeline {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Config = p.Config.Clone()
	return &cp
}

// PipelineConfig holds the recurrence and ingestion settings of a pipeline.
// LastRun and NextRun are UTC instants maintained by the run executor and
// the recurrence calculator; both are nil-able (a pipeline that never ran
// has no last_run).
type PipelineConfig struct {
	Ingest       IngestConfig `json:"ingestor_config"`
	RunFrequency RunFrequency `json:"run_frequency"`
	LastRun      *time.Time   `json:"last_run"`
	NextRun      *time.Time   `json:"next_run"`
}

// Clone returns a deep copy of the config.
func (c PipelineConfig) Clone() PipelineConfig {
	cp := c
	if c.LastRun != nil {
		t := *c.LastRun
		cp.LastRun = &t
	}
	if c.NextRun != nil {
		t := *c.NextRun
		cp.NextRun = &t
	}
	cp.Ingest = c.Ingest.Clone()
	return cp
}

// IngestConfig describes what a run ingests and how.
type IngestConfig struct {
	Sources  []SourceConfig `json:"sources"`
	Strategy string         `json:"strategy,omitempty"`
}

// Clone returns a deep copy of the ingest config.
func (c IngestConfig) Clone() IngestConfig {
	cp := c
	cp.Sources = make([]SourceConfig, len(c.Sources))
	for i := range c.Sources {
		cp.Sources[i] = c.Sources[i].Clone()
	}
	return cp
}

// SourceType discriminates the source config union.
type SourceType string

const (
	SourceAPI    SourceType = "api"
	SourceFile   SourceType = "file"
	SourceScrape SourceType = "scrape"
)

// SourceConfig is a tagged union of the per-source configurations. Exactly
// one of API, File, Scrape is non-nil, matching Type.
type SourceConfig struct {
	Type   SourceType
	API    *APIConfig
	File   *FileConfig
	Scrape *ScrapeConfig
}

// Clone returns a deep copy. A shallow copy of the struct would share the
// config pointers, so a caller mutating its copy would reach through into
// the stored record.
func (s SourceConfig) Clone() SourceConfig {
	cp := s
	if s.API != nil {
		api := *s.API
		if s.API.Headers != nil {
			api.Headers = make(map[string]string, len(s.API.Headers))
			for k, v := range s.API.Headers {
				api.Headers[k] = v
			}
		}
		cp.API = &api
	}
	if s.File != nil {
		file := *s.File
		if s.File.Content != nil {
			file.Content = make([]byte, len(s.File.Content))
			copy(file.Content, s.File.Content)
		}
		cp.File = &file
	}
	if s.Scrape != nil {
		scrape := *s.Scrape
		if s.Scrape.URLs != nil {
			scrape.URLs = make([]string, len(s.Scrape.URLs))
			copy(scrape.URLs, s.Scrape.URLs)
		}
		cp.Scrape = &scrape
	}
	return cp
}

// sourceEnvelope is the wire shape: {"type": "...", "config": {...}}.
type sourceEnvelope struct {
	Type   SourceType      `json:"type"`
	Config json.RawMessage `json:"config"`
}

// UnmarshalJSON decodes the tagged envelope, rejecting unknown type tags at
// deserialization time so invalid configs never reach the store.
func (s *SourceConfig) UnmarshalJSON(data []byte) error {
	var env sourceEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	s.Type = env.Type
	s.API, s.File, s.Scrape = nil, nil, nil
	switch env.Type {
	case SourceAPI:
		s.API = &APIConfig{}
		if err := json.Unmarshal(env.Config, s.API); err != nil {
			return err
		}
	case SourceFile:
		s.File = &FileConfig{}
		if err := json.Unmarshal(env.Config, s.File); err != nil {
			return err
		}
	case SourceScrape:
		s.Scrape = &ScrapeConfig{}
		if err := json.Unmarshal(env.Config, s.Scrape); err != nil {
			return err
		}
		if err := s.Scrape.Validate(); err != nil {
			return err
		}
	default:
		return &ConfigError{Msg: fmt.Sprintf("unknown source type %q", env.Type)}
	}
	return nil
}

// MarshalJSON re-emits the tagged envelope.
func (s SourceConfig) MarshalJSON() ([]byte, error) {
	var cfg any
	switch s.Type {
	case SourceAPI:
		cfg = s.API
	case SourceFile:
		cfg = s.File
	case SourceScrape:
		cfg = s.Scrape
	default:
		return nil, &ConfigError{Msg: fmt.Sprintf("unknown source type %q", s.Type)}
	}
	return json.Marshal(struct {
		Type   SourceType `json:"type"`
		Config any        `json:"config"`
	}{Type: s.Type, Config: cfg})
}

// APIConfig configures an HTTP API source.
type APIConfig struct {
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers,omitempty"`
	TimeoutSeconds int               `json:"timeout,omitempty"` // 0 = service default
	BearerToken    string            `json:"bearer_token,omitempty"`
}

// FileFormat is the declared parse format of an uploaded file.
type FileFormat string

const (
	FormatCSV  FileFormat = "csv"
	FormatJSON FileFormat = "json"
)

// FileConfig configures an uploaded-file source. Content is the raw upload;
// Filename carries the extension used to resolve the parser, which must
// agree with the declared Format.
type FileConfig struct {
	Content  []byte     `json:"content"`
	Filename string     `json:"filename"`
	Format   FileFormat `json:"format"`
}

// ScrapeConfig configures a web-scrape source. Exactly one extraction mode
// must be set: SchemaDoc (a CSS extraction schema document, JSON or YAML)
// or Prompt (LLM-guided extraction).
type ScrapeConfig struct {
	URLs         []string `json:"urls"`
	SchemaDoc    string   `json:"schema_doc,omitempty"`
	Prompt       string   `json:"prompt,omitempty"`
	LLMProvider  string   `json:"llm_provider,omitempty"`
	APIKey       string   `json:"api_key,omitempty"`
	OutputFormat string   `json:"output_format,omitempty"`
	CacheMode    string   `json:"cache_mode,omitempty"`
	Verbose      bool     `json:"verbose,omitempty"`
}

// Validate enforces the extraction-mode exclusivity rule.
func (c *ScrapeConfig) Validate() error {
	if len(c.URLs) == 0 {
		return &ConfigError{Msg: "scrape source requires at least one url"}
	}
	if c.SchemaDoc != "" && c.Prompt != "" {
		return &ConfigError{Msg: "scrape source accepts schema_doc or prompt, not both"}
	}
	return nil
}

// AdapterRecord is one semi-structured record produced by a source adapter.
// Source identifies where the record came from (URL, filename, or "scrape").
type AdapterRecord struct {
	Source string         `json:"source"`
	Data   map[string]any `json:"data"`
}

// OutputData is the aggregated result of a pipeline run.
type OutputData struct {
	Records  []AdapterRecord `json:"records"`
	Unified  bool            `json:"unified"`
	Metadata map[string]any  `json:"metadata"`
}

// Clone returns a deep copy at the record-slice and metadata-map level.
// Record data maps are shared; adapters never mutate records after emit.
func (o *OutputData) Clone() *OutputData {
	if o == nil {
		return nil
	}
	cp := &OutputData{
		Records:  make([]AdapterRecord, len(o.Records)),
		Unified:  o.Unified,
		Metadata: make(map[string]any, len(o.Metadata)),
	}
	copy(cp.Records, o.Records)
	for k, v := range o.Metadata {
		cp.Metadata[k] = v
	}
	return cp
}

// RunLogEvent is one log line emitted during a pipeline run, as delivered
// to log-stream subscribers.
type RunLogEvent struct {
	PipelineID uuid.UUID         `json:"pipeline_id"`
	Level      string            `json:"level"`
	Message    string            `json:"message"`
	Timestamp  time.Time         `json:"timestamp"`
	Tags       map[string]string `json:"tags,omitempty"`
}
