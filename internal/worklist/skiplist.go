package worklist

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SkipList maps protocol → chain → reason for entries that should not be
// attempted. Lookups are case-insensitive on both keys.
type SkipList map[string]map[string]string

// DefaultSkipList returns the built-in do-not-attempt list.
func DefaultSkipList() SkipList {
	return SkipList{
		"Asymmetry":     {"Ethereum": "No public subgraph or API available"},
		"Merkl":         {"Ethereum": "Rewards aggregator, not a TVL protocol"},
		"Nerite":        {"Arbitrum": "No public subgraph available yet"},
		"Starknet Earn": {"Starknet": "Native staking aggregator, no API"},
		"0D":            {"Starknet": "Vesu vault wrapper, TVL counted in Vesu"},
		"Bluefin":       {"Sui": "Perps DEX, no spot TVL subgraph"},
	}
}

// Reason reports why (protocol, chain) is skipped.
func (s SkipList) Reason(protocol, chain string) (string, bool) {
	for p, chains := range s {
		if !strings.EqualFold(p, strings.TrimSpace(protocol)) {
			continue
		}
		for c, reason := range chains {
			if strings.EqualFold(c, strings.TrimSpace(chain)) {
				return reason, true
			}
		}
	}
	return "", false
}

// LoadSkipList reads a skip list from a YAML or JSON file. An empty path
// yields the default list.
func LoadSkipList(path string) (SkipList, error) {
	if path == "" {
		return DefaultSkipList(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skip list: %w", err)
	}
	var s SkipList
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse skip list: %w", err)
	}
	if s == nil {
		s = SkipList{}
	}
	return s, nil
}
