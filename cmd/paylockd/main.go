package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"paylock/config"
	"paylock/core/state"
	"paylock/native/escrow"
	"paylock/native/token"
	"paylock/observability/logging"
	"paylock/rpc"
	"paylock/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("paylockd", strings.TrimSpace(cfg.Environment))

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "paylock"))
	if err != nil {
		logger.Error("failed to open database", "err", err, "dataDir", cfg.DataDir)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)

	registry := token.NewRegistry()
	for _, symbol := range cfg.Tokens {
		ledger, err := token.NewStateLedger(symbol, manager)
		if err != nil {
			logger.Error("failed to create token ledger", "err", err, "token", symbol)
			os.Exit(1)
		}
		registry.Register(ledger)
	}

	arbitrator, err := cfg.ArbitratorAddress()
	if err != nil {
		logger.Error("invalid arbitrator address", "err", err)
		os.Exit(1)
	}

	engine := escrow.NewEngine(arbitrator)
	engine.SetState(manager)
	engine.SetVault(state.VaultAddress())
	engine.SetTokens(registry)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
			logger.Error("metrics endpoint failed", "err", err)
		}
	}()

	logger.Info("starting JSON-RPC server",
		"rpc", cfg.RPCAddress,
		"metrics", cfg.MetricsAddress,
		"arbitrator", cfg.Arbitrator,
		"tokens", strings.Join(cfg.Tokens, ","))

	server := rpc.NewServer(engine, manager, registry)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", "err", err)
		os.Exit(1)
	}
}
