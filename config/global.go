package config

import (
	"fmt"
	"os"
	"time"

	"stakeescrow/native/borrower"
	nativecommon "stakeescrow/native/common"
)

// BorrowerParams converts the borrower section into validated ledger params.
func (c *Config) BorrowerParams() (borrower.Params, error) {
	params := borrower.Params{
		CollateralRatioBps: c.Borrower.CollateralRatioBps,
		LoanFeeBps:         c.Borrower.LoanFeeBps,
		MaxDurationSeconds: c.Borrower.MaxDurationSeconds,
	}
	if err := params.Validate(); err != nil {
		return params, fmt.Errorf("invalid borrower params: %w", err)
	}
	return params, nil
}

// PauseView returns the configured module pauses in the form the ledgers
// consult.
func (c *Config) PauseView() nativecommon.StaticPauses {
	return nativecommon.StaticPauses{
		"token":    c.Pauses.Token,
		"lender":   c.Pauses.Lender,
		"borrower": c.Pauses.Borrower,
	}
}

// QuotaLimits converts the quota section into runtime limits.
func (c *Config) QuotaLimits() nativecommon.Quota {
	return nativecommon.Quota{
		MaxRequests:   c.Quota.MaxRequestsPerMin,
		MaxValueGwei:  c.Quota.MaxValueGwei,
		WindowSeconds: c.Quota.WindowSeconds,
	}
}

// AuthSecret reads the JWT HMAC secret from the configured environment
// variable.
func (c *Config) AuthSecret() ([]byte, error) {
	if !c.Auth.Enabled {
		return nil, nil
	}
	secret := os.Getenv(c.Auth.SecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("auth: environment variable %s is empty", c.Auth.SecretEnv)
	}
	return []byte(secret), nil
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.RPCReadTimeout) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.RPCWriteTimeout) * time.Second
}
