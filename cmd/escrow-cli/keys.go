package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"stakeescrow/cmd/internal/passphrase"
	"stakeescrow/crypto"
)

const keystorePassEnv = "ESCROW_KEYSTORE_PASSPHRASE"

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage of %s:\n", name)
		fs.PrintDefaults()
	}
	return fs
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	out := fs.String("out", "wallet.keystore", "Path of the keystore to create")
	light := fs.Bool("light", false, "Use light scrypt parameters (tests and development only)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	path := strings.TrimSpace(*out)
	if _, err := os.Stat(path); err == nil {
		return printError(stderr, fmt.Sprintf("%s already exists", path))
	}
	pass, err := passphrase.NewSource(keystorePassEnv, "new keystore").Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	strength := crypto.KeystoreStandard
	if *light {
		strength = crypto.KeystoreLight
	}
	if err := crypto.SaveToKeystore(path, key, pass, strength); err != nil {
		return printError(stderr, fmt.Sprintf("save keystore: %v", err))
	}
	fmt.Fprintf(stdout, "Keystore written to %s\n", path)
	fmt.Fprintf(stdout, "Address: %s\n", key.PubKey().Address())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	keyPath := fs.String("key", "wallet.keystore", "Keystore to read")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, key.PubKey().Address())
	return 0
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("--key is required")
	}
	pass, err := passphrase.NewSource(keystorePassEnv, path).Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore %s: %w", path, err)
	}
	return key, nil
}
