package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"stakeescrow/core/state"
	"stakeescrow/core/types"
	"stakeescrow/native/escrow"
	"stakeescrow/storage"
)

// Hash returns the keccak256 digest of the canonical JSON encoding of spec.
func Hash(spec *Spec) ([]byte, error) {
	encoded, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(encoded), nil
}

// Apply initialises an empty database from spec. Applying the same spec to a
// database it already initialised is a no-op; a different spec is rejected.
func Apply(db storage.Database, spec *Spec) (*Resolved, error) {
	if db == nil {
		return nil, fmt.Errorf("genesis: database required")
	}
	resolved, err := spec.Resolve()
	if err != nil {
		return nil, err
	}
	hash, err := Hash(spec)
	if err != nil {
		return nil, err
	}
	manager := state.NewManager(db)
	existing, err := manager.GenesisHash()
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !bytes.Equal(existing, hash) {
			return nil, fmt.Errorf("genesis: database initialised from a different genesis %x", existing)
		}
		return resolved, nil
	}

	for _, alloc := range resolved.Alloc {
		if alloc.Address == escrow.PoolAddress || alloc.Address == escrow.CustodyAddress {
			return nil, fmt.Errorf("genesis: alloc to module account %s", alloc.Address)
		}
		balance := alloc.Balance.Clone()
		if alloc.Address == resolved.Owner {
			balance.Sub(balance, resolved.LockedAmount)
		}
		if err := manager.PutAccount(alloc.Address, &types.Account{Balance: balance}); err != nil {
			return nil, err
		}
	}
	if err := manager.PutAccount(escrow.PoolAddress, &types.Account{Balance: resolved.LockedAmount.Clone()}); err != nil {
		return nil, err
	}
	stats := types.NewPoolStats()
	stats.Seed = resolved.LockedAmount.Clone()
	if err := manager.PutPoolStats(stats); err != nil {
		return nil, err
	}
	if err := manager.PutOwner(resolved.Owner); err != nil {
		return nil, err
	}
	if err := manager.PutInterestRate(resolved.InterestRateBps); err != nil {
		return nil, err
	}
	if err := manager.PutTokenSupply(new(uint256.Int)); err != nil {
		return nil, err
	}
	if err := manager.PutLastTimestamp(uint64(resolved.Time.Unix())); err != nil {
		return nil, err
	}
	if err := manager.PutGenesisHash(hash); err != nil {
		return nil, err
	}
	if err := manager.Commit(); err != nil {
		return nil, err
	}
	return resolved, nil
}
