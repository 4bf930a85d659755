package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/pipeline"
	"github.com/web3-frozen/tvl-extractor/internal/report"
)

// LatestRun exposes the most recent pipeline output.
type LatestRun interface {
	Latest() *pipeline.Output
}

const noRunYet = `{"error":"no run completed yet"}`

// Report serves the latest run report together with its validation result.
func Report(runs LatestRun) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := runs.Latest()
		if out == nil {
			http.Error(w, noRunYet, http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, struct {
			Report     any `json:"report"`
			Validation any `json:"validation"`
		}{out.Report, out.Validation})
	}
}

// Outcomes serves the per-entry outcomes of the latest run. An optional
// status query parameter filters them.
func Outcomes(runs LatestRun) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := runs.Latest()
		if out == nil {
			http.Error(w, noRunYet, http.StatusServiceUnavailable)
			return
		}
		rows := report.OutcomeRows(out.Result.Outcomes)
		if status := r.URL.Query().Get("status"); status != "" {
			filtered := rows[:0:0]
			for _, row := range rows {
				if string(row.Status) == status {
					filtered = append(filtered, row)
				}
			}
			rows = filtered
		}
		writeJSON(w, rows)
	}
}

// ChainTVL serves the latest total for one chain. A chain with no
// successful measurement reports zero.
func ChainTVL(runs LatestRun) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := chain.Parse(chi.URLParam(r, "chain"))
		if err != nil {
			http.Error(w, `{"error":"unknown chain"}`, http.StatusNotFound)
			return
		}
		out := runs.Latest()
		if out == nil {
			http.Error(w, noRunYet, http.StatusServiceUnavailable)
			return
		}
		total := out.Report.ChainTotal(c)
		writeJSON(w, map[string]string{
			"chain":   c.String(),
			"tvl":     total.String(),
			"display": decimals.Format(total),
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
