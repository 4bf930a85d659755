// Package worklist loads the (protocol, chain) entries a run works through and
// the list of entries that are known to have no usable data source.
package worklist

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is one row of the upstream protocol list. TVL is the value listed
// upstream and is carried through for reference only.
type Entry struct {
	Protocol string  `json:"protocol" yaml:"protocol"`
	Category string  `json:"category" yaml:"category"`
	Chain    string  `json:"chain" yaml:"chain"`
	URL      string  `json:"url,omitempty" yaml:"url"`
	TVL      float64 `json:"tvl,omitempty" yaml:"tvl"`
}

// Load reads a worklist file. JSON is accepted as a subset of YAML.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worklist: %w", err)
	}
	return Parse(data)
}

// Parse decodes a worklist document. Entries without a protocol or chain are
// rejected because nothing could be done with them.
func Parse(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse worklist: %w", err)
	}
	for i, e := range entries {
		if strings.TrimSpace(e.Protocol) == "" || strings.TrimSpace(e.Chain) == "" {
			return nil, fmt.Errorf("parse worklist: entry %d: protocol and chain are required", i)
		}
	}
	return entries, nil
}

var aliases = map[string]string{
	"aave":        "Aave V3",
	"uniswap":     "Uniswap V3",
	"compound":    "Compound",
	"curve":       "Curve",
	"spark/maker": "Spark Lend",
	"spark":       "Spark Lend",
	"maker":       "Spark Lend",
	"aerodrome":   "Aerodrome",
	"velodrome":   "Velodrome",
}

// NormalizeProtocol maps the names used upstream onto extractor names.
// Unknown names are returned unchanged.
func NormalizeProtocol(name string) string {
	if canonical, ok := aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return canonical
	}
	return name
}
