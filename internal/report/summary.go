package report

import (
	"fmt"
	"io"
	"math/big"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/orchestrator"
)

var statusRank = map[orchestrator.Status]int{
	orchestrator.StatusSucceeded:      0,
	orchestrator.StatusNotImplemented: 1,
	orchestrator.StatusSkipped:        2,
	orchestrator.StatusFailed:         3,
}

// SortOutcomes orders outcomes for display: successes by amount descending,
// then not implemented, skipped and failed entries. The input is not modified.
func SortOutcomes(outcomes []orchestrator.Outcome) []orchestrator.Outcome {
	out := slices.Clone(outcomes)
	slices.SortStableFunc(out, func(a, b orchestrator.Outcome) int {
		if ra, rb := statusRank[a.Status], statusRank[b.Status]; ra != rb {
			return ra - rb
		}
		if a.Status == orchestrator.StatusSucceeded && a.Measurement != nil && b.Measurement != nil {
			return b.Measurement.Amount.Cmp(a.Measurement.Amount)
		}
		return 0
	})
	return out
}

// PrintSummary writes the console table for a run.
func PrintSummary(w io.Writer, outcomes []orchestrator.Outcome) {
	protocolWidth, chainWidth := 15, 10
	for _, o := range outcomes {
		protocolWidth = max(protocolWidth, len(o.Protocol))
		chainWidth = max(chainWidth, len(o.Chain))
	}

	rule := strings.Repeat("─", 60)
	fmt.Fprintln(w, "\n"+strings.Repeat("═", 60))
	fmt.Fprintf(w, "%-*s  %-*s  %s\n", protocolWidth, "Protocol", chainWidth, "Chain", "TVL (tBTC)")
	fmt.Fprintln(w, rule)

	var extracted, failed, skipped int
	for _, o := range SortOutcomes(outcomes) {
		var cell string
		switch o.Status {
		case orchestrator.StatusSucceeded:
			extracted++
			cell = "✓ " + FormatTokens(o.Measurement.Amount)
		case orchestrator.StatusSkipped:
			skipped++
			reason := o.Reason
			if reason == "" {
				reason = "Skipped"
			}
			cell = "⊘ " + reason
		case orchestrator.StatusNotImplemented:
			skipped++
			cell = "✗ Not implemented"
		default:
			failed++
			cell = "✗ Extraction failed"
		}
		fmt.Fprintf(w, "%-*s  %-*s  %s\n", protocolWidth, o.Protocol, chainWidth, o.Chain, cell)
	}

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total Protocols:     %d\n", len(outcomes))
	fmt.Fprintf(w, "✓ Extracted:         %d\n", extracted)
	fmt.Fprintf(w, "✗ Failed:            %d\n", failed)
	fmt.Fprintf(w, "⊘ Skipped:           %d\n", skipped)
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("═", 60))
}

var (
	million  = decimal.NewFromInt(1_000_000)
	thousand = decimal.NewFromInt(1_000)
)

// FormatTokens renders a canonical amount compactly for humans.
func FormatTokens(v *big.Int) string {
	d := decimal.NewFromBigInt(v, -decimals.Canonical)
	if d.GreaterThanOrEqual(million) {
		return d.Div(million).StringFixed(2) + "M"
	}
	if d.GreaterThanOrEqual(thousand) {
		return addCommas(d.StringFixed(2))
	}
	return d.StringFixed(4)
}

func addCommas(s string) string {
	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]
	n := len(intPart)
	if n <= 3 {
		if len(parts) == 2 {
			return intPart + "." + parts[1]
		}
		return intPart
	}
	var result []byte
	for i, c := range intPart {
		if i > 0 && (n-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	if len(parts) == 2 {
		return string(result) + "." + parts[1]
	}
	return string(result)
}
