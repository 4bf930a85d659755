// Package report writes a finished run to disk and to the console.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/orchestrator"
	"github.com/web3-frozen/tvl-extractor/internal/pipeline"
)

// NotAvailable marks tvl.json rows without a measurement.
const NotAvailable = "-1"

type Writer struct {
	Dir string
	now func() time.Time
}

func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir, now: time.Now}
}

// WriteResults writes the run report, validation report and outcomes to a
// new results-<timestamp>.json and returns its path.
func (w *Writer) WriteResults(out *pipeline.Output) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	base, err := json.Marshal(out.Report)
	if err != nil {
		return "", fmt.Errorf("encode run report: %w", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(base, &doc); err != nil {
		return "", fmt.Errorf("encode run report: %w", err)
	}
	if doc["validationReport"], err = json.Marshal(out.Validation); err != nil {
		return "", fmt.Errorf("encode validation report: %w", err)
	}
	if doc["outcomes"], err = json.Marshal(OutcomeRows(out.Result.Outcomes)); err != nil {
		return "", fmt.Errorf("encode outcomes: %w", err)
	}

	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(w.now().UTC().Format("2006-01-02T15:04:05.000Z"))
	name := "results-" + stamp + ".json"
	path := filepath.Join(w.Dir, name)
	if err := writeJSON(path, doc); err != nil {
		return "", err
	}
	return path, nil
}

// TVLRow is one line of tvl.json, keyed by the worklist's own names.
type TVLRow struct {
	Protocol string `json:"protocol"`
	Chain    string `json:"chain"`
	TVL      string `json:"tvl"`
}

// TVLRows converts outcomes into tvl.json rows in worklist order.
func TVLRows(outcomes []orchestrator.Outcome) []TVLRow {
	rows := make([]TVLRow, 0, len(outcomes))
	for _, o := range outcomes {
		tvl := NotAvailable
		if o.Status == orchestrator.StatusSucceeded && o.Measurement != nil {
			tvl = decimals.Format(o.Measurement.Amount)
		}
		rows = append(rows, TVLRow{Protocol: o.Protocol, Chain: o.Chain, TVL: tvl})
	}
	return rows
}

// WriteTVLSummary writes tvl.json and returns its path.
func (w *Writer) WriteTVLSummary(outcomes []orchestrator.Outcome) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(w.Dir, "tvl.json")
	if err := writeJSON(path, TVLRows(outcomes)); err != nil {
		return "", err
	}
	return path, nil
}

// OutcomeRow is the serialized form of an outcome.
type OutcomeRow struct {
	orchestrator.Outcome
	TVL        string `json:"tvl,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

func OutcomeRows(outcomes []orchestrator.Outcome) []OutcomeRow {
	rows := make([]OutcomeRow, len(outcomes))
	for i, o := range outcomes {
		rows[i] = OutcomeRow{Outcome: o, DurationMs: o.Duration.Milliseconds()}
		if o.Measurement != nil {
			rows[i].TVL = o.Measurement.Amount.String()
		}
	}
	return rows
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
