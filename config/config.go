package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"stakeescrow/crypto"
)

type Config struct {
	RPCAddress         string `toml:"RPCAddress"`
	MetricsAddress     string `toml:"MetricsAddress"`
	DataDir            string `toml:"DataDir"`
	GenesisFile        string `toml:"GenesisFile"`
	ChainID            uint64 `toml:"ChainID"`
	OwnerKeystorePath  string `toml:"OwnerKeystorePath"`
	OwnerPassphraseEnv string `toml:"OwnerPassphraseEnv"`
	RPCReadTimeout     int    `toml:"RPCReadTimeout"`
	RPCWriteTimeout    int    `toml:"RPCWriteTimeout"`
	// AllowAutogenesis lets the daemon create a development genesis owned
	// by the owner keystore when the database is empty and no GenesisFile
	// is configured.
	AllowAutogenesis     bool     `toml:"AllowAutogenesis"`
	RPCRequestsPerSecond float64  `toml:"RPCRequestsPerSecond"`
	RPCBurst             int      `toml:"RPCBurst"`
	WSOriginPatterns     []string `toml:"WSOriginPatterns"`

	Borrower  Borrower  `toml:"borrower"`
	Logging   Logging   `toml:"logging"`
	Telemetry Telemetry `toml:"telemetry"`
	Auth      Auth      `toml:"auth"`
	Pauses    Pauses    `toml:"pauses"`
	Quota     Quota     `toml:"quota"`
	Indexer   Indexer   `toml:"indexer"`
}

// Load loads the configuration from the given path. A missing file is
// replaced by a default configuration together with a fresh owner keystore.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	if cfg.GenesisFile == "" {
		if err := ensureKeystore(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./escrow-data"
	}
	if c.ChainID == 0 {
		c.ChainID = DefaultChainID
	}
	if c.Borrower.CollateralRatioBps == 0 {
		c.Borrower.CollateralRatioBps = DefaultCollateralRatioBps
	}
	if c.RPCReadTimeout == 0 {
		c.RPCReadTimeout = 15
	}
	if c.RPCWriteTimeout == 0 {
		c.RPCWriteTimeout = 15
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
}

// ensureKeystore creates the owner keystore used for autogenesis when it does
// not exist yet and records its path in the config file.
func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OwnerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, cfg.OwnerPassphrase(), crypto.KeystoreStandard); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OwnerKeystorePath != keystorePath {
		cfg.OwnerKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:       ":8545",
		DataDir:          "./escrow-data",
		ChainID:          DefaultChainID,
		AllowAutogenesis: true,
		Borrower: Borrower{
			CollateralRatioBps: DefaultCollateralRatioBps,
			LoanFeeBps:         DefaultLoanFeeBps,
		},
		Logging: Logging{Env: "dev", Level: "info"},
		Quota:   Quota{WindowSeconds: 60},
	}
	cfg.applyDefaults()
	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OwnerPassphrase reads the owner keystore passphrase from the configured
// environment variable. An unset variable yields the empty passphrase.
func (c *Config) OwnerPassphrase() string {
	if c.OwnerPassphraseEnv == "" {
		return ""
	}
	return os.Getenv(c.OwnerPassphraseEnv)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}
