package state

import "stakeescrow/crypto"

var (
	accountPrefix        = []byte("account:")
	tokenBalancePrefix   = []byte("token/balance:")
	tokenAllowancePrefix = []byte("token/allowance:")
	lenderPrefix         = []byte("lender/position:")
	borrowerPrefix       = []byte("borrower/position:")

	tokenSupplyKey   = []byte("token/supply")
	lenderIndexKey   = []byte("lender/index")
	interestRateKey  = []byte("lender/interest-rate")
	poolStatsKey     = []byte("escrow/pool-stats")
	ownerKey         = []byte("escrow/owner")
	lastTimestampKey = []byte("chain/last-timestamp")
	genesisKey       = []byte("chain/genesis")
)

func addressKey(prefix []byte, addr crypto.Address) []byte {
	buf := make([]byte, len(prefix)+crypto.AddressLength)
	copy(buf, prefix)
	copy(buf[len(prefix):], addr.Bytes())
	return buf
}

func allowanceKey(owner, spender crypto.Address) []byte {
	buf := make([]byte, len(tokenAllowancePrefix)+2*crypto.AddressLength)
	n := copy(buf, tokenAllowancePrefix)
	n += copy(buf[n:], owner.Bytes())
	copy(buf[n:], spender.Bytes())
	return buf
}
