package extractor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
)

// Registry indexes extractors by protocol name. It is immutable after
// NewRegistry returns, so lookups need no locking.
type Registry struct {
	byName map[string]Extractor
	all    []Extractor
}

// NewRegistry builds a registry. Protocol names are matched
// case-insensitively and must be unique.
func NewRegistry(extractors ...Extractor) (*Registry, error) {
	r := &Registry{byName: make(map[string]Extractor, len(extractors))}
	for _, e := range extractors {
		key := normalizeName(e.ProtocolName())
		if key == "" {
			return nil, fmt.Errorf("extractor %T has an empty protocol name", e)
		}
		if _, dup := r.byName[key]; dup {
			return nil, fmt.Errorf("duplicate extractor for protocol %q", e.ProtocolName())
		}
		r.byName[key] = e
		r.all = append(r.all, e)
	}
	return r, nil
}

// FindByProtocol returns the extractor registered under name, if any.
func (r *Registry) FindByProtocol(name string) (Extractor, bool) {
	e, ok := r.byName[normalizeName(name)]
	return e, ok
}

// FindByChain returns every extractor that can serve c, in no particular order.
func (r *Registry) FindByChain(c chain.Chain) []Extractor {
	var out []Extractor
	for _, e := range r.all {
		if e.CanExtract(c) {
			out = append(out, e)
		}
	}
	return out
}

// Protocols returns the registered protocol names, sorted.
func (r *Registry) Protocols() []string {
	names := make([]string, 0, len(r.all))
	for _, e := range r.all {
		names = append(names, e.ProtocolName())
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int { return len(r.all) }

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
