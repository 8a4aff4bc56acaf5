package common

import "errors"

// Failure taxonomy shared by the ledgers and the escrow coordinator. Engines
// wrap these with a component prefix; callers match with errors.Is.
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidAddress        = errors.New("invalid address")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientStake     = errors.New("insufficient stake")
	ErrInsufficientPoolFunds = errors.New("insufficient pool funds")
	ErrAlreadyBorrowing      = errors.New("already borrowing")
	ErrNoActiveLoan          = errors.New("no active loan")
	ErrNoActivePosition      = errors.New("no active position")
	ErrLoanNotExpired        = errors.New("loan not expired")
	ErrWrongAmount           = errors.New("wrong amount")
	ErrOverflow              = errors.New("arithmetic overflow")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidAddress, "InvalidAddress"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrInsufficientAllowance, "InsufficientAllowance"},
	{ErrInsufficientStake, "InsufficientStake"},
	{ErrInsufficientPoolFunds, "InsufficientPoolFunds"},
	{ErrAlreadyBorrowing, "AlreadyBorrowing"},
	{ErrNoActiveLoan, "NoActiveLoan"},
	{ErrNoActivePosition, "NoActivePosition"},
	{ErrLoanNotExpired, "LoanNotExpired"},
	{ErrWrongAmount, "WrongAmount"},
	{ErrOverflow, "Overflow"},
	{ErrModulePaused, "ModulePaused"},
}

// Kind returns the taxonomy name of err, or "Internal" when err does not wrap
// one of the sentinel failures. A nil error yields "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
