package aggregate

import (
	"encoding/json"
	"time"

	"github.com/web3-frozen/tvl-extractor/internal/extractor"
)

// Amounts are encoded as base-10 strings so consumers never round them.

type protocolJSON struct {
	Name        string               `json:"name"`
	TVL         string               `json:"tvl"`
	TVLUSD      string               `json:"tvlUsd,omitempty"`
	Timestamp   time.Time            `json:"timestamp"`
	BlockNumber *uint64              `json:"blockNumber,omitempty"`
	Source      extractor.SourceKind `json:"source"`
	Endpoints   []string             `json:"endpoints,omitempty"`
	PoolCount   *int                 `json:"poolCount,omitempty"`
}

type chainJSON struct {
	TotalTVL  string         `json:"totalTvl"`
	Protocols []protocolJSON `json:"protocols"`
}

type reportJSON struct {
	Metadata struct {
		Timestamp time.Time `json:"timestamp"`
		Version   string    `json:"version"`
		RunID     string    `json:"runId"`
	} `json:"metadata"`
	Chains  map[string]chainJSON `json:"chains"`
	Summary struct {
		TotalTVL      string  `json:"totalTvl"`
		SuccessRate   float64 `json:"successRate"`
		ProtocolCount int     `json:"protocolCount"`
		ChainCount    int     `json:"chainCount"`
		Succeeded     int     `json:"succeeded"`
		Attempted     int     `json:"attempted"`
	} `json:"summary"`
}

func (r *RunReport) MarshalJSON() ([]byte, error) {
	var out reportJSON
	out.Metadata.Timestamp = r.Metadata.Timestamp
	out.Metadata.Version = r.Metadata.Version
	out.Metadata.RunID = r.Metadata.RunID
	out.Chains = make(map[string]chainJSON, len(r.Chains))
	for c, agg := range r.Chains {
		cj := chainJSON{TotalTVL: agg.Total.String(), Protocols: make([]protocolJSON, 0, len(agg.Protocols))}
		for _, m := range agg.Protocols {
			p := protocolJSON{
				Name:        m.Protocol,
				TVL:         m.Amount.String(),
				Timestamp:   m.ObservedAt,
				BlockNumber: m.BlockHeight,
				Source:      m.Provenance.Source,
				Endpoints:   m.Provenance.Endpoints,
				PoolCount:   m.Provenance.PoolCount,
			}
			if m.AmountUSD != nil {
				p.TVLUSD = m.AmountUSD.String()
			}
			cj.Protocols = append(cj.Protocols, p)
		}
		out.Chains[string(c)] = cj
	}
	out.Summary.TotalTVL = r.Summary.TotalAmount.String()
	out.Summary.SuccessRate = r.Summary.SuccessRate
	out.Summary.ProtocolCount = r.Summary.ProtocolCount
	out.Summary.ChainCount = r.Summary.ChainCount
	out.Summary.Succeeded = r.Summary.Succeeded
	out.Summary.Attempted = r.Summary.Attempted
	return json.Marshal(out)
}
