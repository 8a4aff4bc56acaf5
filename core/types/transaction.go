package types

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"stakeescrow/crypto"
)

// TxType identifies the escrow entry point a transaction invokes.
type TxType byte

const (
	TxTypeGetTokens       TxType = 0x01 // Mint platform tokens to the sender
	TxTypeDeposit         TxType = 0x02 // Open or extend a lender position with Value
	TxTypeWithdraw        TxType = 0x03 // Close the lender position, principal plus interest
	TxTypeApprove         TxType = 0x04 // Set a token allowance
	TxTypeTransfer        TxType = 0x05 // Move tokens to another address
	TxTypeStake           TxType = 0x06 // Move tokens into borrower custody
	TxTypeUnstake         TxType = 0x07 // Release free stake
	TxTypeBorrow          TxType = 0x08 // Open a loan against staked tokens
	TxTypeRepay           TxType = 0x09 // Close the loan, Value must equal the repayment
	TxTypeClaimCollateral TxType = 0x0a // Seize the stake of a defaulted borrower
	TxTypeSetInterestRate TxType = 0x0b // Owner-only lender rate change
)

var txTypeNames = map[TxType]string{
	TxTypeGetTokens:       "get_tokens",
	TxTypeDeposit:         "deposit",
	TxTypeWithdraw:        "withdraw",
	TxTypeApprove:         "approve",
	TxTypeTransfer:        "transfer",
	TxTypeStake:           "stake",
	TxTypeUnstake:         "unstake",
	TxTypeBorrow:          "borrow",
	TxTypeRepay:           "repay",
	TxTypeClaimCollateral: "claim_collateral",
	TxTypeSetInterestRate: "set_interest_rate",
}

func (t TxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(t))
}

// Valid reports whether the type maps to a known entry point.
func (t TxType) Valid() bool {
	_, ok := txTypeNames[t]
	return ok
}

// AcceptsValue reports whether the entry point consumes attached native value.
func (t TxType) AcceptsValue() bool {
	return t == TxTypeDeposit || t == TxTypeRepay
}

var errUnsigned = errors.New("transaction: missing signature")

// Transaction is a signed request to invoke one escrow entry point. The
// recovered signer is the caller identity for the whole call.
type Transaction struct {
	ChainID uint64   `json:"chainId"`
	Type    TxType   `json:"type"`
	Nonce   uint64   `json:"nonce"`
	Value   *big.Int `json:"value,omitempty"`
	Data    []byte   `json:"data,omitempty"`

	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from *crypto.Address
}

// Hash returns the digest that is signed by the sender. Signature fields are
// excluded.
func (tx *Transaction) Hash() ([]byte, error) {
	txData := struct {
		ChainID uint64
		Type    TxType
		Nonce   uint64
		Value   *big.Int
		Data    []byte
	}{tx.ChainID, tx.Type, tx.Nonce, tx.Value, tx.Data}

	b, err := json.Marshal(txData)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := ethcrypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	tx.from = nil
	return nil
}

// From recovers the signer address. The result is cached.
func (tx *Transaction) From() (crypto.Address, error) {
	if tx.from != nil {
		return *tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return crypto.Address{}, errUnsigned
	}
	if len(tx.R.Bytes()) > 32 || len(tx.S.Bytes()) > 32 || !tx.V.IsUint64() || tx.V.Uint64() < 27 {
		return crypto.Address{}, fmt.Errorf("transaction: malformed signature")
	}
	hash, err := tx.Hash()
	if err != nil {
		return crypto.Address{}, err
	}
	sig := make([]byte, 65)
	copy(sig[32-len(tx.R.Bytes()):32], tx.R.Bytes())
	copy(sig[64-len(tx.S.Bytes()):64], tx.S.Bytes())
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return crypto.Address{}, err
	}
	addr, err := crypto.BytesToAddress(ethcrypto.PubkeyToAddress(*pubKey).Bytes())
	if err != nil {
		return crypto.Address{}, err
	}
	tx.from = &addr
	return addr, nil
}

// SetPayload JSON-encodes the entry point arguments into Data.
func (tx *Transaction) SetPayload(payload interface{}) error {
	if payload == nil {
		tx.Data = nil
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	tx.Data = raw
	return nil
}

// DecodePayload unmarshals Data into out.
func (tx *Transaction) DecodePayload(out interface{}) error {
	if len(tx.Data) == 0 {
		return fmt.Errorf("transaction: %s requires a payload", tx.Type)
	}
	if err := json.Unmarshal(tx.Data, out); err != nil {
		return fmt.Errorf("transaction: decode %s payload: %w", tx.Type, err)
	}
	return nil
}

// Payloads carried in Transaction.Data. Amounts are decimal strings of base
// units so they survive JSON without precision loss.

type AmountPayload struct {
	Amount string `json:"amount"`
}

type ApprovePayload struct {
	Spender crypto.Address `json:"spender"`
	Amount  string         `json:"amount"`
}

type TransferPayload struct {
	To     crypto.Address `json:"to"`
	Amount string         `json:"amount"`
}

type BorrowPayload struct {
	CollateralTokens string `json:"collateralTokens"`
	DurationSeconds  uint64 `json:"durationSeconds"`
}

type ClaimCollateralPayload struct {
	Borrower crypto.Address `json:"borrower"`
}

type InterestRatePayload struct {
	RateBps uint64 `json:"rateBps"`
}
