package config

import (
	"fmt"
	"net"
)

const (
	DefaultChainID            = uint64(31337)
	DefaultCollateralRatioBps = uint64(15000)
	DefaultLoanFeeBps         = uint64(500)
	MaxSampleRatio            = 1.0
)

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.RPCAddress); err != nil {
		return fmt.Errorf("rpc: invalid RPCAddress %q: %w", c.RPCAddress, err)
	}
	if c.MetricsAddress != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddress); err != nil {
			return fmt.Errorf("metrics: invalid MetricsAddress %q: %w", c.MetricsAddress, err)
		}
	}
	if c.DataDir == "" {
		return fmt.Errorf("storage: DataDir required")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("chain: ChainID must be non-zero")
	}
	if _, err := c.BorrowerParams(); err != nil {
		return err
	}
	if c.RPCReadTimeout < 0 || c.RPCWriteTimeout < 0 {
		return fmt.Errorf("rpc: timeouts must not be negative")
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging: rotation limits must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > MaxSampleRatio {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	if c.RPCRequestsPerSecond < 0 || c.RPCBurst < 0 {
		return fmt.Errorf("rpc: rate limit must not be negative")
	}
	if c.Indexer.QueueSize < 0 {
		return fmt.Errorf("indexer: QueueSize must not be negative")
	}
	if c.Auth.Enabled && c.Auth.SecretEnv == "" {
		return fmt.Errorf("auth: SecretEnv required when auth is enabled")
	}
	return nil
}
