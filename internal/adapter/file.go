package adapter

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/tributary-data/tributary/internal/domain"
)

// FileAdapter parses an uploaded file into records. The parser is resolved
// from the filename extension, which must agree with the declared format.
type FileAdapter struct {
	content  []byte
	filename string
	format   domain.FileFormat
}

// NewFileAdapter validates the declared filename and format against each
// other. A mismatch is a ConfigError, caught before any run starts.
func NewFileAdapter(cfg domain.FileConfig) (*FileAdapter, error) {
	if cfg.Filename == "" {
		return nil, &domain.ConfigError{Msg: "file source requires a filename"}
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(cfg.Filename)), ".")
	switch cfg.Format {
	case domain.FormatCSV, domain.FormatJSON:
		if ext != string(cfg.Format) {
			return nil, &domain.ConfigError{
				Msg: fmt.Sprintf("filename %q does not match declared format %q", cfg.Filename, cfg.Format),
			}
		}
	default:
		return nil, &domain.ConfigError{Msg: fmt.Sprintf("unsupported file format %q", cfg.Format)}
	}
	return &FileAdapter{content: cfg.Content, filename: cfg.Filename, format: cfg.Format}, nil
}

// Fetch parses the upload. CSV yields one record per data row keyed by the
// header; JSON follows the object/array convention. The record source is
// the filename.
func (a *FileAdapter) Fetch(ctx context.Context) ([]domain.AdapterRecord, error) {
	slog.InfoContext(ctx, "parsing file source", "filename", a.filename, "format", a.format)

	switch a.format {
	case domain.FormatCSV:
		return a.parseCSV()
	case domain.FormatJSON:
		return a.parseJSON()
	}
	return nil, &domain.AdapterError{Source: a.filename, Err: fmt.Errorf("unsupported format %q", a.format)}
}

func (a *FileAdapter) parseCSV() ([]domain.AdapterRecord, error) {
	r := csv.NewReader(bytes.NewReader(a.content))
	rows, err := r.ReadAll()
	if err != nil {
		return nil, &domain.AdapterError{Source: a.filename, Err: fmt.Errorf("parse csv: %w", err)}
	}
	if len(rows) == 0 {
		return nil, &domain.AdapterError{Source: a.filename, Err: fmt.Errorf("csv file is empty")}
	}

	header := rows[0]
	records := make([]domain.AdapterRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		data := make(map[string]any, len(header))
		for i, col := range header {
			data[col] = row[i]
		}
		records = append(records, domain.AdapterRecord{Source: a.filename, Data: data})
	}
	return records, nil
}

func (a *FileAdapter) parseJSON() ([]domain.AdapterRecord, error) {
	var payload any
	if err := json.Unmarshal(a.content, &payload); err != nil {
		return nil, &domain.AdapterError{Source: a.filename, Err: fmt.Errorf("parse json: %w", err)}
	}

	switch v := payload.(type) {
	case map[string]any:
		return []domain.AdapterRecord{{Source: a.filename, Data: v}}, nil
	case []any:
		records := make([]domain.AdapterRecord, 0, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, &domain.AdapterError{Source: a.filename, Err: fmt.Errorf("array element %d is not an object", i)}
			}
			records = append(records, domain.AdapterRecord{Source: a.filename, Data: obj})
		}
		return records, nil
	default:
		return nil, &domain.AdapterError{Source: a.filename, Err: fmt.Errorf("json is neither object nor array")}
	}
}
