// Package validate applies business-rule checks to a set of measurements.
package validate

import (
	"math/big"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/extractor"
)

type Level string

const (
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

const (
	MsgNegative   = "negative TVL"
	MsgTooLarge   = "suspiciously large TVL"
	MsgZero       = "zero TVL"
	checksPerItem = 3
)

// MaxAmount is the largest plausible amount: one billion tokens in canonical units.
var MaxAmount = new(big.Int).Mul(big.NewInt(1_000_000_000), decimals.Units(1))

type Issue struct {
	Level    Level          `json:"level"`
	Message  string         `json:"message"`
	Protocol string         `json:"protocol,omitempty"`
	Chain    chain.Chain    `json:"chain,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

type Summary struct {
	TotalChecks  int `json:"totalChecks"`
	PassedChecks int `json:"passedChecks"`
	WarningCount int `json:"warningCount"`
	ErrorCount   int `json:"errorCount"`
}

// Report is the verdict over one run's measurements. Passed is true when
// there are no errors; warnings do not fail a run.
type Report struct {
	Passed   bool    `json:"passed"`
	Warnings []Issue `json:"warnings"`
	Errors   []Issue `json:"errors"`
	Summary  Summary `json:"summary"`
}

// Validate checks every measurement independently. It never modifies its input.
func Validate(ms []*extractor.Measurement) *Report {
	r := &Report{Warnings: []Issue{}, Errors: []Issue{}}
	for _, m := range ms {
		if m == nil {
			continue
		}
		r.Summary.TotalChecks += checksPerItem
		r.Summary.PassedChecks += checksPerItem - r.check(m)
	}
	r.Summary.WarningCount = len(r.Warnings)
	r.Summary.ErrorCount = len(r.Errors)
	r.Passed = len(r.Errors) == 0
	return r
}

// check records issues for m and returns how many of its checks did not pass.
func (r *Report) check(m *extractor.Measurement) int {
	amount := m.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	details := map[string]any{"tvl": amount.String()}
	issue := func(level Level, msg string) Issue {
		return Issue{Level: level, Message: msg, Protocol: m.Protocol, Chain: m.Chain, Details: details}
	}

	failed := 0
	if amount.Sign() < 0 {
		r.Errors = append(r.Errors, issue(LevelError, MsgNegative))
		failed++
	}
	if amount.Cmp(MaxAmount) > 0 {
		r.Errors = append(r.Errors, issue(LevelError, MsgTooLarge))
		failed++
	}
	if amount.Sign() == 0 {
		r.Warnings = append(r.Warnings, issue(LevelWarning, MsgZero))
		failed++
	}
	return failed
}
