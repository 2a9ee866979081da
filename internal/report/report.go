// Package report records the outcome of a quantization run.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/Vincentjhon31/MangaAutoScroller/pkg/quant"
)

const mib = 1024 * 1024

// File is one side of a run.
type File struct {
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

// Report is the JSON document written by --report and returned by the API.
type Report struct {
	ID               string       `json:"id"`
	Backend          string       `json:"backend"`
	WeightType       string       `json:"weight_type"`
	Input            File         `json:"input"`
	Output           File         `json:"output"`
	ReductionPercent float64      `json:"reduction_percent"`
	StartedAt        time.Time    `json:"started_at"`
	DurationMS       int64        `json:"duration_ms"`
	Stats            *quant.Stats `json:"stats,omitempty"`
}

// New starts a report with a fresh run id.
func New(backend string, weightType quant.Type) *Report {
	return &Report{
		ID:         uuid.NewString(),
		Backend:    backend,
		WeightType: weightType.String(),
		StartedAt:  time.Now().UTC(),
	}
}

// Finish records the output size and timing.
func (r *Report) Finish(outputBytes int64) {
	r.Output.Bytes = outputBytes
	r.ReductionPercent = Reduction(r.Input.Bytes, outputBytes)
	r.DurationMS = time.Since(r.StartedAt).Milliseconds()
}

// Reduction is (1 - out/in) * 100. An empty input reports no reduction.
func Reduction(inBytes, outBytes int64) float64 {
	if inBytes <= 0 {
		return 0
	}
	return (1 - float64(outBytes)/float64(inBytes)) * 100
}

// MB formats n as mebibytes with one decimal.
func MB(n int64) string {
	return fmt.Sprintf("%.1f MB", float64(n)/mib)
}

// Percent formats a reduction as a whole percentage.
func Percent(p float64) string {
	return fmt.Sprintf("%.0f%%", p)
}

// Marshal encodes r as indented JSON.
func (r *Report) Marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// WriteFile writes r to path, creating parent directories.
func (r *Report) WriteFile(path string) error {
	data, err := r.Marshal()
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Load reads a report written by WriteFile.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &r, nil
}
