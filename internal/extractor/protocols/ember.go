package protocols

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/datasource"
	"github.com/web3-frozen/tvl-extractor/internal/decimals"
	"github.com/web3-frozen/tvl-extractor/internal/extractor"
)

const emberTBTCVault = "0x323578c2b24683ca845c68c1e2097697d65e235826a9dc931abce3b4b1e43642"

// Ember reads total deposits of the tBTC vault from the Bluefin vaults API.
type Ember struct {
	extractor.Chains
	http   *datasource.HTTP
	url    string
	logger *slog.Logger
	now    func() time.Time
}

func NewEmber(d Deps) *Ember {
	d = d.withDefaults()
	return &Ember{
		Chains: extractor.Chains{chain.Sui},
		http:   d.HTTP,
		url:    strings.TrimRight(d.EmberAPI, "/") + "/vaults",
		logger: d.Logger,
		now:    d.Now,
	}
}

func (e *Ember) ProtocolName() string { return "Ember" }

type emberVault struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DepositCoin struct {
		Address  string `json:"address"`
		Decimals int    `json:"decimals"`
		Symbol   string `json:"symbol"`
	} `json:"depositCoin"`
	TotalDeposits string `json:"totalDeposits"`
}

// findTBTCVault prefers the known vault id and falls back to the deposit coin.
func findTBTCVault(vaults []emberVault, coinType string) *emberVault {
	for i := range vaults {
		if vaults[i].ID == emberTBTCVault {
			return &vaults[i]
		}
	}
	for i := range vaults {
		addr := vaults[i].DepositCoin.Address
		if strings.Contains(addr, "TBTC") || addr == coinType {
			return &vaults[i]
		}
	}
	return nil
}

func (e *Ember) Extract(ctx context.Context, c chain.Chain) (*extractor.Measurement, error) {
	if !e.CanExtract(c) {
		return nil, extractor.Unsupported(e.ProtocolName(), c)
	}

	var vaults []emberVault
	if err := e.http.GetJSON(ctx, e.url, &vaults); err != nil {
		return nil, fmt.Errorf("ember vaults: %w", err)
	}

	prov := extractor.Provenance{Source: extractor.SourceAPI, Endpoints: []string{e.url}}
	vault := findTBTCVault(vaults, c.Token())
	if vault == nil {
		e.logger.Warn("no tBTC vault found, reporting zero", "protocol", e.ProtocolName(), "vault_count", len(vaults))
		return measurement(e.ProtocolName(), c, nil, e.now(), prov), nil
	}

	deposits := vault.TotalDeposits
	if strings.TrimSpace(deposits) == "" {
		deposits = "0"
	}
	amount, err := decimals.Normalize(deposits, vault.DepositCoin.Decimals)
	if err != nil {
		return nil, fmt.Errorf("vault %s totalDeposits: %w", vault.ID, err)
	}
	return measurement(e.ProtocolName(), c, amount, e.now(), prov), nil
}
