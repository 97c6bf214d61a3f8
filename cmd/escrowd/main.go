package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"escrowd/config"
	"escrowd/core/events"
	"escrowd/native/bank"
	"escrowd/native/escrow"
	"escrowd/observability/logging"
	"escrowd/rpc"
	"escrowd/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ESCROWD_ENV"))
	logger := logging.Setup("escrowd", env, os.Getenv("ESCROWD_LOG_LEVEL"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "escrows"))
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	vault, err := config.ParseAddress(cfg.VaultAddress)
	if err != nil {
		logger.Error("Invalid vault address", slog.Any("error", err))
		os.Exit(1)
	}

	ledger := bank.NewLedger(vault)
	if err := seedGenesis(ledger, cfg.GenesisAccounts); err != nil {
		logger.Error("Invalid genesis account", slog.Any("error", err))
		os.Exit(1)
	}

	engine := escrow.NewEngine()
	engine.SetState(escrow.NewKVState(db))
	engine.SetCustody(ledger)
	feed := events.NewBoundedRecorder(eventFeedCapacity)
	engine.SetEmitter(feed)

	policy := escrow.FeePolicy{Rate: cfg.FeeRate, Denominator: cfg.FeeDenominator}
	if strings.TrimSpace(cfg.FeeCollector) != "" {
		if policy.Collector, err = config.ParseAddress(cfg.FeeCollector); err != nil {
			logger.Error("Invalid fee collector", slog.Any("error", err))
			os.Exit(1)
		}
	}
	if err := engine.SetFeePolicy(policy); err != nil {
		logger.Error("Invalid fee policy", slog.Any("error", err))
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.FeeAuthority) != "" {
		authority, err := config.ParseAddress(cfg.FeeAuthority)
		if err != nil {
			logger.Error("Invalid fee authority", slog.Any("error", err))
			os.Exit(1)
		}
		engine.SetAuthority(authority)
	}

	server := rpc.NewServer(engine)
	server.SetEventFeed(feed)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting escrow RPC server", slog.String("addr", cfg.RPCAddress))
	if err := server.Start(ctx, cfg.RPCAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

// eventFeedCapacity bounds the in-memory event feed served by escrow_events.
const eventFeedCapacity = 10_000

func seedGenesis(ledger *bank.Ledger, accounts []config.GenesisAccount) error {
	for i, acct := range accounts {
		addr, err := config.ParseAddress(acct.Address)
		if err != nil {
			return fmt.Errorf("account %d: %w", i, err)
		}
		asset := escrow.NativeAsset()
		if symbol := strings.ToUpper(strings.TrimSpace(acct.Asset)); symbol != "" && symbol != "NATIVE" {
			if asset, err = escrow.TokenAsset(symbol); err != nil {
				return fmt.Errorf("account %d: %w", i, err)
			}
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(acct.Amount), 10)
		if !ok || amount.Sign() < 0 {
			return fmt.Errorf("account %d: malformed amount %q", i, acct.Amount)
		}
		ledger.Mint(addr, asset, amount)
	}
	return nil
}
