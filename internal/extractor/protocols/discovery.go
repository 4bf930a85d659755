package protocols

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/web3-frozen/tvl-extractor/internal/cache"
	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/metrics"
)

// addressDiscovery finds fund-holding addresses through an indexer and falls
// back to the last cached result, then to a static list. It never fails:
// the worst case is the static list, which may be empty.
type addressDiscovery struct {
	protocol string
	cache    cache.Store
	ttl      time.Duration
	logger   *slog.Logger
}

type cachedAddresses struct {
	Addresses []string  `json:"addresses"`
	FoundAt   time.Time `json:"foundAt"`
}

func newAddressDiscovery(d Deps, protocol string) *addressDiscovery {
	return &addressDiscovery{protocol: protocol, cache: d.Cache, ttl: d.DiscoveryTTL, logger: d.Logger}
}

func (a *addressDiscovery) key(c chain.Chain) string {
	return "discovery:" + strings.ToLower(strings.ReplaceAll(a.protocol, " ", "-")) + ":" + string(c)
}

// resolve returns the addresses to read and a label for where they came from:
// "discovered", "cached" or "static".
func (a *addressDiscovery) resolve(ctx context.Context, c chain.Chain, discover func(context.Context) ([]string, error), static []string) ([]string, string) {
	found, err := discover(ctx)
	found = dedupeAddresses(found)
	if err == nil && len(found) > 0 {
		if a.cache != nil {
			if err := a.cache.SetJSON(ctx, a.key(c), cachedAddresses{Addresses: found, FoundAt: time.Now()}, a.ttl); err != nil {
				a.logger.Warn("cache discovered addresses failed", "protocol", a.protocol, "chain", string(c), "error", err)
			}
		}
		return found, "discovered"
	}

	metrics.DiscoveryFallbacks.WithLabelValues(a.protocol, string(c)).Inc()
	if err != nil {
		a.logger.Warn("address discovery failed, falling back", "protocol", a.protocol, "chain", string(c), "error", err)
	} else {
		a.logger.Info("address discovery found nothing, falling back", "protocol", a.protocol, "chain", string(c))
	}

	if a.cache != nil {
		var cached cachedAddresses
		ok, err := a.cache.GetJSON(ctx, a.key(c), &cached)
		if err != nil {
			a.logger.Warn("read cached addresses failed", "protocol", a.protocol, "chain", string(c), "error", err)
		}
		if ok && len(cached.Addresses) > 0 {
			return cached.Addresses, "cached"
		}
	}
	return dedupeAddresses(static), "static"
}

// dedupeAddresses drops case-insensitive duplicates, keeping first occurrences.
func dedupeAddresses(addrs []string) []string {
	seen := make(map[string]bool, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		k := strings.ToLower(strings.TrimSpace(a))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
	}
	return out
}
