package main

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"stakeescrow/config"
	"stakeescrow/core"
	"stakeescrow/crypto"
	"stakeescrow/storage"
)

func TestResolveGenesisPathPrecedence(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key != genesisPathEnv {
			t.Fatalf("unexpected lookup key: %s", key)
		}
		return "env-path", true
	}

	t.Run("cli flag takes precedence", func(t *testing.T) {
		path, err := resolveGenesisPath("cli-path", "cfg-path", true, lookup)
		if err != nil {
			t.Fatalf("resolveGenesisPath returned error: %v", err)
		}
		if path != "cli-path" {
			t.Fatalf("unexpected path: got %q want %q", path, "cli-path")
		}
	})

	t.Run("environment overrides config", func(t *testing.T) {
		path, err := resolveGenesisPath("", "cfg-path", true, lookup)
		if err != nil {
			t.Fatalf("resolveGenesisPath returned error: %v", err)
		}
		if path != "env-path" {
			t.Fatalf("unexpected path: got %q want %q", path, "env-path")
		}
	})

	t.Run("autogenesis allows empty path", func(t *testing.T) {
		empty := func(string) (string, bool) { return "", false }
		path, err := resolveGenesisPath("", " ", true, empty)
		if err != nil {
			t.Fatalf("resolveGenesisPath returned error: %v", err)
		}
		if path != "" {
			t.Fatalf("expected empty path, got %q", path)
		}
	})

	t.Run("error when nothing configured", func(t *testing.T) {
		empty := func(string) (string, bool) { return "", false }
		if _, err := resolveGenesisPath("", "", false, empty); err == nil {
			t.Fatalf("expected error without genesis source or autogenesis")
		}
	})
}

func TestResolveAllowAutogenesis(t *testing.T) {
	env := func(value string) envLookupFunc {
		return func(key string) (string, bool) {
			if key != allowAutogenesisEnv {
				return "", false
			}
			return value, true
		}
	}

	allow, err := resolveAllowAutogenesis(false, false, false, env("true"))
	if err != nil || !allow {
		t.Fatalf("env should enable autogenesis: allow=%v err=%v", allow, err)
	}
	allow, err = resolveAllowAutogenesis(true, true, false, env("true"))
	if err != nil || allow {
		t.Fatalf("cli flag should override env: allow=%v err=%v", allow, err)
	}
	if _, err := resolveAllowAutogenesis(false, false, false, env("maybe")); err == nil {
		t.Fatalf("expected error for invalid env value")
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestOpenNodeAutogenesis(t *testing.T) {
	cfg := testConfig(t)
	params, err := cfg.BorrowerParams()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := storage.NewMemDB()
	opts := core.Options{ChainID: cfg.ChainID, Params: params, Logger: logger}

	if _, err := openNode(db, opts, cfg, "", false, logger); err == nil {
		t.Fatalf("expected error on empty database without autogenesis")
	}
	node, err := openNode(db, opts, cfg, "", true, logger)
	if err != nil {
		t.Fatalf("openNode: %v", err)
	}
	key, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, cfg.OwnerPassphrase())
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if node.Owner() != key.PubKey().Address() {
		t.Fatalf("owner mismatch: got %s want %s", node.Owner(), key.PubKey().Address())
	}

	// A second start reuses the stored genesis.
	again, err := openNode(db, opts, cfg, "", false, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if again.Owner() != node.Owner() {
		t.Fatalf("owner changed across restarts")
	}
}

func TestOpenNodeGenesisFile(t *testing.T) {
	cfg := testConfig(t)
	params, err := cfg.BorrowerParams()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := key.PubKey().Address()
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	body := "genesisTime: \"2024-01-01T00:00:00Z\"\n" +
		"chainId: " + itoa(cfg.ChainID) + "\n" +
		"owner: " + owner.String() + "\n" +
		"alloc:\n  " + owner.String() + ": \"" + devOwnerBalance + "\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write genesis: %v", err)
	}

	db := storage.NewMemDB()
	opts := core.Options{ChainID: cfg.ChainID, Params: params, Logger: logger}
	node, err := openNode(db, opts, cfg, path, false, logger)
	if err != nil {
		t.Fatalf("openNode: %v", err)
	}
	if node.Owner() != owner {
		t.Fatalf("owner mismatch")
	}
	if _, err := openNode(db, opts, cfg, path, false, logger); err != nil {
		t.Fatalf("re-applying the same genesis should succeed: %v", err)
	}

	opts.ChainID = cfg.ChainID + 1
	if _, err := openNode(storage.NewMemDB(), opts, cfg, path, false, logger); err == nil {
		t.Fatalf("expected chain id mismatch error")
	}
	if _, err := core.NewNode(storage.NewMemDB(), opts); !errors.Is(err, core.ErrNotInitialised) {
		t.Fatalf("expected ErrNotInitialised, got %v", err)
	}
}

func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}
