package lender

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	nativecommon "stakeescrow/native/common"
)

const (
	// BasisPointsDenominator expresses rates in hundredths of a percent.
	BasisPointsDenominator = 10_000
	// SecondsPerYear is the accrual year: 365 days, no leap handling.
	SecondsPerYear = 365 * 24 * 60 * 60
)

var accrualDenominator = new(big.Int).Mul(big.NewInt(BasisPointsDenominator), big.NewInt(SecondsPerYear))

// Accrue returns the simple interest earned by principal at rateBps over the
// seconds between since and now:
//
//	principal * rateBps * elapsed / (10_000 * 31_536_000)
//
// rounded down. A clock that reads before since yields zero. The intermediate
// product is computed in arbitrary precision; only a result wider than 256 bits
// is reported as an overflow.
func Accrue(principal *uint256.Int, rateBps, since, now uint64) (*uint256.Int, error) {
	if principal == nil || principal.IsZero() || rateBps == 0 || now <= since {
		return new(uint256.Int), nil
	}
	elapsed := now - since
	product := principal.ToBig()
	product.Mul(product, new(big.Int).SetUint64(rateBps))
	product.Mul(product, new(big.Int).SetUint64(elapsed))
	product.Quo(product, accrualDenominator)
	interest, overflow := uint256.FromBig(product)
	if overflow {
		return nil, fmt.Errorf("lender ledger: interest: %w", nativecommon.ErrOverflow)
	}
	return interest, nil
}
