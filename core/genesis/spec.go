package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"stakeescrow/crypto"
)

const (
	// DefaultInterestRateBps is the initial lender rate, 5% per year.
	DefaultInterestRateBps = 500
	// DefaultLockedAmount seeds the pool with 1 ether (1e18 wei).
	DefaultLockedAmount = "1000000000000000000"
)

// Spec is the JSON genesis document.
type Spec struct {
	GenesisTime string `json:"genesisTime" yaml:"genesisTime"`
	ChainID     uint64 `json:"chainId" yaml:"chainId"`
	// Owner controls the interest rate and receives seized collateral.
	Owner           string  `json:"owner" yaml:"owner"`
	InterestRateBps *uint64 `json:"interestRateBps,omitempty" yaml:"interestRateBps,omitempty"`
	// LockedAmount is moved from the owner's allocation into the pool.
	LockedAmount string            `json:"lockedAmount,omitempty" yaml:"lockedAmount,omitempty"`
	Alloc        map[string]string `json:"alloc" yaml:"alloc"`
}

// Resolved is a validated Spec with parsed values.
type Resolved struct {
	Time            time.Time
	ChainID         uint64
	Owner           crypto.Address
	InterestRateBps uint64
	LockedAmount    *uint256.Int
	Alloc           []Allocation
}

// Allocation is an initial native balance.
type Allocation struct {
	Address crypto.Address
	Balance *uint256.Int
}

// LoadSpec reads and validates a genesis document from path. Files ending in
// .yaml or .yml are decoded as YAML, anything else as JSON.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	var spec Spec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &spec)
	default:
		err = json.Unmarshal(data, &spec)
	}
	if err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if _, err := spec.Resolve(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Default returns a development genesis owned by owner, who is allocated
// ownerBalance wei.
func Default(chainID uint64, owner crypto.Address, ownerBalance string) *Spec {
	rate := uint64(DefaultInterestRateBps)
	return &Spec{
		GenesisTime:     time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
		ChainID:         chainID,
		Owner:           owner.String(),
		InterestRateBps: &rate,
		LockedAmount:    DefaultLockedAmount,
		Alloc:           map[string]string{owner.String(): ownerBalance},
	}
}

// Resolve validates the document and parses its fields. Allocations are
// returned sorted by address.
func (s *Spec) Resolve() (*Resolved, error) {
	if s == nil {
		return nil, fmt.Errorf("genesis: spec required")
	}
	out := &Resolved{ChainID: s.ChainID, InterestRateBps: DefaultInterestRateBps}

	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(s.GenesisTime))
	if err != nil {
		return nil, fmt.Errorf("genesis: genesisTime: %w", err)
	}
	out.Time = ts.UTC()

	owner, err := crypto.DecodeAddress(strings.TrimSpace(s.Owner))
	if err != nil {
		return nil, fmt.Errorf("genesis: owner: %w", err)
	}
	if owner.IsZero() {
		return nil, fmt.Errorf("genesis: owner must not be the zero address")
	}
	out.Owner = owner

	if s.InterestRateBps != nil {
		out.InterestRateBps = *s.InterestRateBps
	}

	locked := strings.TrimSpace(s.LockedAmount)
	if locked == "" {
		locked = DefaultLockedAmount
	}
	if out.LockedAmount, err = uint256.FromDecimal(locked); err != nil {
		return nil, fmt.Errorf("genesis: lockedAmount %q: %w", locked, err)
	}

	seen := make(map[crypto.Address]struct{}, len(s.Alloc))
	for rawAddr, rawAmount := range s.Alloc {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(rawAddr))
		if err != nil {
			return nil, fmt.Errorf("genesis: alloc %q: %w", rawAddr, err)
		}
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("genesis: alloc %s listed twice", addr)
		}
		seen[addr] = struct{}{}
		amount, err := uint256.FromDecimal(strings.TrimSpace(rawAmount))
		if err != nil {
			return nil, fmt.Errorf("genesis: alloc %s amount %q: %w", addr, rawAmount, err)
		}
		out.Alloc = append(out.Alloc, Allocation{Address: addr, Balance: amount})
	}
	sort.Slice(out.Alloc, func(i, j int) bool {
		return out.Alloc[i].Address.String() < out.Alloc[j].Address.String()
	})

	ownerBalance := new(uint256.Int)
	for _, alloc := range out.Alloc {
		if alloc.Address == owner {
			ownerBalance = alloc.Balance
		}
	}
	if ownerBalance.Lt(out.LockedAmount) {
		return nil, fmt.Errorf("genesis: owner allocation %s cannot fund locked amount %s", ownerBalance.Dec(), out.LockedAmount.Dec())
	}
	return out, nil
}
