package state

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"stakeescrow/core/types"
	"stakeescrow/crypto"
)

type poolStatsRecord struct {
	LenderPrincipal     *big.Int
	OutstandingLoans    *big.Int
	InterestPaid        *big.Int
	InterestCapitalised *big.Int
	FeesCollected       *big.Int
	DefaultedPrincipal  *big.Int
	SeizedCollateral    *big.Int
	Seed                *big.Int
}

// PoolStats returns the aggregate pool counters, zeroed when unset.
func (m *Manager) PoolStats() (*types.PoolStats, error) {
	var rec poolStatsRecord
	ok, err := m.KVGet(poolStatsKey, &rec)
	if err != nil {
		return nil, err
	}
	stats := types.NewPoolStats()
	if !ok {
		return stats, nil
	}
	pairs := []struct {
		dst *uint256.Int
		src *big.Int
	}{
		{stats.LenderPrincipal, rec.LenderPrincipal},
		{stats.OutstandingLoans, rec.OutstandingLoans},
		{stats.InterestPaid, rec.InterestPaid},
		{stats.InterestCapitalised, rec.InterestCapitalised},
		{stats.FeesCollected, rec.FeesCollected},
		{stats.DefaultedPrincipal, rec.DefaultedPrincipal},
		{stats.SeizedCollateral, rec.SeizedCollateral},
		{stats.Seed, rec.Seed},
	}
	for _, p := range pairs {
		v, err := toUint256(p.src)
		if err != nil {
			return nil, err
		}
		p.dst.Set(v)
	}
	return stats, nil
}

// PutPoolStats persists the aggregate pool counters.
func (m *Manager) PutPoolStats(stats *types.PoolStats) error {
	if stats == nil {
		return fmt.Errorf("state: nil pool stats")
	}
	return m.KVPut(poolStatsKey, &poolStatsRecord{
		LenderPrincipal:     toBig(stats.LenderPrincipal),
		OutstandingLoans:    toBig(stats.OutstandingLoans),
		InterestPaid:        toBig(stats.InterestPaid),
		InterestCapitalised: toBig(stats.InterestCapitalised),
		FeesCollected:       toBig(stats.FeesCollected),
		DefaultedPrincipal:  toBig(stats.DefaultedPrincipal),
		SeizedCollateral:    toBig(stats.SeizedCollateral),
		Seed:                toBig(stats.Seed),
	})
}

// Owner returns the escrow owner recorded at genesis.
func (m *Manager) Owner() (crypto.Address, bool, error) {
	var owner crypto.Address
	ok, err := m.KVGet(ownerKey, &owner)
	return owner, ok, err
}

func (m *Manager) PutOwner(owner crypto.Address) error {
	return m.KVPut(ownerKey, owner)
}

// LastTimestamp returns the timestamp of the last applied call.
func (m *Manager) LastTimestamp() (uint64, error) {
	var ts uint64
	if _, err := m.KVGet(lastTimestampKey, &ts); err != nil {
		return 0, err
	}
	return ts, nil
}

func (m *Manager) PutLastTimestamp(ts uint64) error {
	return m.KVPut(lastTimestampKey, ts)
}

// GenesisHash returns the hash of the genesis document the database was
// initialised from, or nil for an empty database.
func (m *Manager) GenesisHash() ([]byte, error) {
	var hash []byte
	ok, err := m.KVGet(genesisKey, &hash)
	if err != nil || !ok {
		return nil, err
	}
	return hash, nil
}

func (m *Manager) PutGenesisHash(hash []byte) error {
	return m.KVPut(genesisKey, hash)
}
