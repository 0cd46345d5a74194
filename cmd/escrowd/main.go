package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"escrowd/config"
	"escrowd/core"
	"escrowd/observability/logging"
	"escrowd/rpc"
	"escrowd/storage"
)

const shutdownGrace = 10 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ESCROWD_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	var logWriter io.Writer = os.Stdout
	if strings.TrimSpace(cfg.LogFile) != "" {
		logWriter = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}
	}
	logger := logging.SetupWithWriter("escrowd", env, logWriter)

	feeRecipient, err := cfg.FeeRecipientAddress()
	if err != nil {
		logger.Error("Invalid fee recipient", slog.Any("error", err))
		os.Exit(1)
	}
	owner, err := cfg.OwnerAddress()
	if err != nil {
		logger.Error("Invalid registry owner", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node := core.NewNode(db)

	initialised, err := node.Initialised()
	if err != nil {
		logger.Error("Failed to inspect ledger state", slog.Any("error", err))
		os.Exit(1)
	}
	if !initialised {
		allocs, err := cfg.GenesisAllocations()
		if err != nil {
			logger.Error("Invalid genesis allocations", slog.Any("error", err))
			os.Exit(1)
		}
		for addr, balance := range allocs {
			if err := node.CreditAccount(addr, balance); err != nil {
				logger.Error("Failed to apply genesis allocation", slog.Any("error", err))
				os.Exit(1)
			}
		}
		logger.Info("Applied genesis allocations", slog.Int("accounts", len(allocs)))
	}

	record, err := node.RegistryInit(feeRecipient.Raw(), owner.Raw())
	if err != nil {
		logger.Error("Failed to initialise registry", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Registry ready",
		slog.String("network", cfg.NetworkName),
		slog.String("owner", cfg.Owner),
		slog.String("feeRecipient", cfg.FeeRecipient),
		slog.Bool("paused", record.Paused),
	)

	server := rpc.NewServer(node)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting JSON-RPC server", slog.String("address", cfg.RPCAddress))
		errCh <- server.Start(cfg.RPCAddress)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", slog.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("RPC shutdown failed", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server exited", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
