package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stakeescrow/config"
	"stakeescrow/core"
	"stakeescrow/core/events"
	"stakeescrow/core/genesis"
	"stakeescrow/crypto"
	"stakeescrow/indexer"
	"stakeescrow/observability/logging"
	escrowotel "stakeescrow/observability/otel"
	"stakeescrow/rpc"
	"stakeescrow/storage"
)

const (
	genesisPathEnv      = "ESCROW_GENESIS"
	allowAutogenesisEnv = "ESCROW_ALLOW_AUTOGENESIS"

	// devOwnerBalance is the owner allocation of an autogenerated genesis,
	// 1000 ether.
	devOwnerBalance = "1000000000000000000000"
)

type envLookupFunc func(string) (string, bool)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON or YAML file (overrides ESCROW_GENESIS and config GenesisFile)")
	allowAutogenesisFlag := flag.Bool("allow-autogenesis", false, "DEV ONLY: create a genesis owned by the owner keystore when the database is empty")
	flag.Parse()

	if err := run(*configFile, *genesisFlag, flagWasProvided("allow-autogenesis"), *allowAutogenesisFlag); err != nil {
		fmt.Fprintf(os.Stderr, "escrowd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, genesisFlag string, autogenesisSet, autogenesisValue bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "escrowd",
		Env:        cfg.Logging.Env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if endpoint := strings.TrimSpace(cfg.Telemetry.Endpoint); endpoint != "" {
		shutdown, err := escrowotel.Init(ctx, escrowotel.Config{
			ServiceName: "escrowd",
			Environment: cfg.Logging.Env,
			Endpoint:    endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     cfg.Telemetry.Headers,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	allowAutogenesis, err := resolveAllowAutogenesis(cfg.AllowAutogenesis, autogenesisSet, autogenesisValue, os.LookupEnv)
	if err != nil {
		return err
	}
	genesisPath, err := resolveGenesisPath(genesisFlag, cfg.GenesisFile, allowAutogenesis, os.LookupEnv)
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	params, err := cfg.BorrowerParams()
	if err != nil {
		return err
	}

	var (
		broker  = events.NewBroker(0)
		emitter = events.Fanout{broker}
		store   rpc.EventStore
	)
	if dsn := strings.TrimSpace(cfg.Indexer.DSN); dsn != "" {
		gdb, err := indexer.Open(dsn)
		if err != nil {
			return fmt.Errorf("open indexer: %w", err)
		}
		idx, err := indexer.New(gdb, logger, cfg.Indexer.QueueSize)
		if err != nil {
			return err
		}
		idxDone := make(chan struct{})
		go func() {
			defer close(idxDone)
			idx.Run(ctx)
		}()
		defer func() {
			stop()
			<-idxDone
		}()
		emitter = append(emitter, idx)
		store = idx
		logger.Info("event indexer enabled", logging.MaskField("dsn", dsn))
	}

	opts := core.Options{
		ChainID: cfg.ChainID,
		Params:  params,
		Pauses:  cfg.PauseView(),
		Logger:  logger,
		Emitter: emitter,
	}
	node, err := openNode(db, opts, cfg, genesisPath, allowAutogenesis, logger)
	if err != nil {
		return err
	}

	secret, err := cfg.AuthSecret()
	if err != nil {
		return err
	}
	server, err := rpc.NewServer(node, rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			Enabled:  cfg.Auth.Enabled,
			Secret:   secret,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
		},
		Quota: cfg.QuotaLimits(),
		RateLimit: rpc.RateLimit{
			RequestsPerSecond: cfg.RPCRequestsPerSecond,
			Burst:             cfg.RPCBurst,
		},
		Broker:           broker,
		WSOriginPatterns: cfg.WSOriginPatterns,
		Events:           store,
		ServeMetrics:     strings.TrimSpace(cfg.MetricsAddress) == "",
		ReadTimeout:      cfg.ReadTimeout(),
		WriteTimeout:     cfg.WriteTimeout(),
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("create rpc server: %w", err)
	}

	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		metricsSrv := &http.Server{
			Addr:              addr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("addr", addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	listener, err := net.Listen("tcp", cfg.RPCAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.RPCAddress, err)
	}
	logger.Info("escrow node started",
		slog.Uint64("chain_id", node.ChainID()),
		slog.String("owner", node.Owner().String()),
		slog.String("pool", node.PoolAddress().String()))
	if err := server.Serve(ctx, listener); err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}
	logger.Info("escrow node stopped")
	return nil
}

// openNode opens the node on db, initialising it from the genesis file or an
// autogenerated development genesis first when needed. A configured genesis
// file is applied on every start so a database from a different genesis is
// refused.
func openNode(db storage.Database, opts core.Options, cfg *config.Config, genesisPath string, allowAutogenesis bool, logger *slog.Logger) (*core.Node, error) {
	if genesisPath != "" {
		spec, err := genesis.LoadSpec(genesisPath)
		if err != nil {
			return nil, err
		}
		if spec.ChainID != 0 && spec.ChainID != opts.ChainID {
			return nil, fmt.Errorf("genesis chain id %d does not match configured chain id %d", spec.ChainID, opts.ChainID)
		}
		resolved, err := genesis.Apply(db, spec)
		if err != nil {
			return nil, err
		}
		logger.Info("genesis applied", slog.String("path", genesisPath), slog.String("owner", resolved.Owner.String()))
		return core.NewNode(db, opts)
	}

	node, err := core.NewNode(db, opts)
	if !errors.Is(err, core.ErrNotInitialised) {
		return node, err
	}
	if !allowAutogenesis {
		return nil, fmt.Errorf("database is empty and autogenesis is disabled")
	}
	key, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, cfg.OwnerPassphrase())
	if err != nil {
		return nil, fmt.Errorf("load owner keystore: %w", err)
	}
	owner := key.PubKey().Address()
	if _, err := genesis.Apply(db, genesis.Default(cfg.ChainID, owner, devOwnerBalance)); err != nil {
		return nil, err
	}
	logger.Warn("autogenesis created a development genesis", slog.String("owner", owner.String()))
	return core.NewNode(db, opts)
}

func resolveGenesisPath(cliPath string, cfgPath string, allowAutogenesis bool, lookup envLookupFunc) (string, error) {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed, nil
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, nil
			}
		}
	}
	if trimmed := strings.TrimSpace(cfgPath); trimmed != "" {
		return trimmed, nil
	}
	if allowAutogenesis {
		return "", nil
	}
	return "", fmt.Errorf("no genesis file provided; supply one via --genesis, %s or config, or enable autogenesis (--allow-autogenesis / %s / config)", genesisPathEnv, allowAutogenesisEnv)
}

func resolveAllowAutogenesis(cfgValue bool, cliSet bool, cliValue bool, lookup envLookupFunc) (bool, error) {
	allow := cfgValue
	if lookup != nil {
		if value, ok := lookup(allowAutogenesisEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				parsed, err := strconv.ParseBool(trimmed)
				if err != nil {
					return false, fmt.Errorf("invalid %s value %q: %w", allowAutogenesisEnv, trimmed, err)
				}
				allow = parsed
			}
		}
	}
	if cliSet {
		allow = cliValue
	}
	return allow, nil
}

func flagWasProvided(name string) bool {
	provided := false
	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == name {
			provided = true
		}
	})
	return provided
}
