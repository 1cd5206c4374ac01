// Package export writes ledger snapshots to files for offline analysis and
// classifier retraining datasets.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"github.com/ayurtrace/ayurtrace/internal/models"
)

// Supported output formats
const (
	FormatParquet = "parquet"
	FormatYAML    = "yaml"
	FormatJSONL   = "jsonl"
)

// Record is one origin with its processing history, flattened for columnar output
type Record struct {
	HerbID     uint64  `json:"herb_id" yaml:"herb_id" parquet:"herb_id"`
	Species    string  `json:"species" yaml:"species" parquet:"species"`
	Confidence int32   `json:"confidence" yaml:"confidence" parquet:"confidence"`
	Latitude   float64 `json:"latitude" yaml:"latitude" parquet:"latitude"`
	Longitude  float64 `json:"longitude" yaml:"longitude" parquet:"longitude"`
	Timestamp  int64   `json:"timestamp" yaml:"timestamp" parquet:"timestamp"`
	Submitter  string  `json:"submitter" yaml:"submitter" parquet:"submitter"`

	StepActions    []string `json:"step_actions" yaml:"step_actions" parquet:"step_actions,list"`
	StepBatches    []string `json:"step_batches" yaml:"step_batches" parquet:"step_batches,list"`
	StepTimestamps []int64  `json:"step_timestamps" yaml:"step_timestamps" parquet:"step_timestamps,list"`
	StepProcessors []string `json:"step_processors" yaml:"step_processors" parquet:"step_processors,list"`
}

// Snapshot is the YAML document layout
type Snapshot struct {
	ExportedAt string   `yaml:"exported_at"`
	Count      int      `yaml:"count"`
	Records    []Record `yaml:"records"`
}

// FromTrace flattens a trace into a Record
func FromTrace(t models.Trace) Record {
	r := Record{
		HerbID:         t.Origin.ID,
		Species:        t.Origin.Species,
		Confidence:     int32(t.Origin.Confidence),
		Latitude:       t.Origin.Latitude(),
		Longitude:      t.Origin.Longitude(),
		Timestamp:      t.Origin.Timestamp,
		Submitter:      t.Origin.Submitter,
		StepActions:    make([]string, 0, len(t.History)),
		StepBatches:    make([]string, 0, len(t.History)),
		StepTimestamps: make([]int64, 0, len(t.History)),
		StepProcessors: make([]string, 0, len(t.History)),
	}
	for _, s := range t.History {
		r.StepActions = append(r.StepActions, s.Action)
		r.StepBatches = append(r.StepBatches, s.BatchNumber)
		r.StepTimestamps = append(r.StepTimestamps, s.Timestamp)
		r.StepProcessors = append(r.StepProcessors, s.Processor)
	}
	return r
}

// FormatFromPath picks an output format from a file extension
func FormatFromPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return FormatParquet, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("cannot infer export format from %q", path)
	}
}

// Write encodes traces to w in the given format
func Write(w io.Writer, format string, traces []models.Trace, exportedAt time.Time) error {
	records := make([]Record, 0, len(traces))
	for _, t := range traces {
		records = append(records, FromTrace(t))
	}

	switch format {
	case FormatParquet:
		return writeParquet(w, records)
	case FormatYAML:
		return writeYAML(w, records, exportedAt)
	case FormatJSONL:
		return writeJSONL(w, records)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// WriteFile writes traces to path; an empty format is inferred from the extension
func WriteFile(path, format string, traces []models.Trace, exportedAt time.Time) error {
	if format == "" {
		var err error
		if format, err = FormatFromPath(path); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := Write(f, format, traces, exportedAt); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close export file: %w", err)
	}
	return nil
}

func writeParquet(w io.Writer, records []Record) error {
	pw := parquet.NewGenericWriter[Record](w)
	if _, err := pw.Write(records); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return nil
}

func writeYAML(w io.Writer, records []Record, exportedAt time.Time) error {
	doc := Snapshot{
		ExportedAt: exportedAt.UTC().Format(time.RFC3339),
		Count:      len(records),
		Records:    records,
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return enc.Close()
}

func writeJSONL(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode record %d: %w", r.HerbID, err)
		}
	}
	return nil
}

// ReadParquet loads records written by Write in Parquet format
func ReadParquet(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[Record](pf)
	defer reader.Close()

	records := make([]Record, 0, pf.NumRows())
	rows := make([]Record, 128)
	for {
		n, err := reader.Read(rows)
		records = append(records, rows[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
	return records, nil
}
