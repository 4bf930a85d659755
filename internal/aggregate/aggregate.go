// Package aggregate rolls measurements up into per-chain totals and a run
// report. All sums are exact integer arithmetic.
package aggregate

import (
	"cmp"
	"math/big"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/extractor"
)

// ChainAggregate is one chain's rollup. Total always equals the sum of the
// member amounts.
type ChainAggregate struct {
	Total     *big.Int
	Protocols []*extractor.Measurement
}

type Summary struct {
	TotalAmount   *big.Int
	SuccessRate   float64
	ProtocolCount int
	ChainCount    int
	Succeeded     int
	Attempted     int
}

type Metadata struct {
	RunID     string
	Timestamp time.Time
	Version   string
}

// RunReport is produced once per run and not modified afterwards.
type RunReport struct {
	Metadata Metadata
	Chains   map[chain.Chain]*ChainAggregate
	Summary  Summary
}

var (
	newRunID = uuid.NewString
	now      = time.Now
)

// Aggregate groups ms by chain. attempted is the number of entries whose
// extractor was invoked and is the denominator of the success rate.
func Aggregate(ms []*extractor.Measurement, attempted int, version string) *RunReport {
	r := &RunReport{
		Metadata: Metadata{RunID: newRunID(), Timestamp: now().UTC(), Version: version},
		Chains:   make(map[chain.Chain]*ChainAggregate),
	}

	protocols := make(map[string]struct{})
	succeeded := 0
	for _, m := range ms {
		if m == nil {
			continue
		}
		agg, ok := r.Chains[m.Chain]
		if !ok {
			agg = &ChainAggregate{}
			r.Chains[m.Chain] = agg
		}
		agg.Protocols = append(agg.Protocols, m)
		protocols[m.Protocol] = struct{}{}
		succeeded++
	}

	total := new(big.Int)
	for _, agg := range r.Chains {
		slices.SortStableFunc(agg.Protocols, func(a, b *extractor.Measurement) int {
			return cmp.Compare(a.Protocol, b.Protocol)
		})
		agg.Total = sum(agg.Protocols)
		total.Add(total, agg.Total)
	}

	if attempted < succeeded {
		attempted = succeeded
	}
	r.Summary = Summary{
		TotalAmount:   total,
		ProtocolCount: len(protocols),
		ChainCount:    len(r.Chains),
		Succeeded:     succeeded,
		Attempted:     attempted,
	}
	if attempted > 0 {
		r.Summary.SuccessRate = float64(succeeded) / float64(attempted)
	}
	return r
}

func sum(ms []*extractor.Measurement) *big.Int {
	total := new(big.Int)
	for _, m := range ms {
		if m.Amount != nil {
			total.Add(total, m.Amount)
		}
	}
	return total
}

// ChainTotal returns c's total, or zero when c has no measurements.
func (r *RunReport) ChainTotal(c chain.Chain) *big.Int {
	if agg, ok := r.Chains[c]; ok {
		return new(big.Int).Set(agg.Total)
	}
	return new(big.Int)
}

// SortedChains returns the chains present in the report in chain.All order,
// followed by any others alphabetically.
func (r *RunReport) SortedChains() []chain.Chain {
	out := make([]chain.Chain, 0, len(r.Chains))
	for c := range r.Chains {
		out = append(out, c)
	}
	rank := func(c chain.Chain) int {
		if i := slices.Index(chain.All, c); i >= 0 {
			return i
		}
		return len(chain.All)
	}
	slices.SortFunc(out, func(a, b chain.Chain) int {
		if d := cmp.Compare(rank(a), rank(b)); d != 0 {
			return d
		}
		return cmp.Compare(a, b)
	})
	return out
}
