package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"llm-trade-bot-go/internal/backend"
	"llm-trade-bot-go/internal/binance"
	"llm-trade-bot-go/internal/config"
	"llm-trade-bot-go/internal/database"
	"llm-trade-bot-go/internal/ledger"
	"llm-trade-bot-go/internal/logger"
	"llm-trade-bot-go/internal/trader"
)

const shutdownTimeout = 10 * time.Second

// app holds the wired components shared by every command.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	exchange *binance.RestClient
	engine   *trader.Engine
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "trader",
		Short:        "LLM-driven trading bot",
		Long:         "Runs decision cycles: market snapshot, reasoning backend, ledger entry and optional order.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./configs", "Directory holding config.yml")

	rootCmd.AddCommand(newRunCmd(&configPath))
	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newCycleCmd(&configPath))
	rootCmd.AddCommand(newMetricsCmd(&configPath))
	return rootCmd
}

// newRunCmd schedules cycles and metric captures in-process.
func newRunCmd(configPath *string) *cobra.Command {
	var noServer bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and the trigger server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.log.Sync()

			ctx, cancel := signalContext(a.log)
			defer cancel()

			if _, err := a.exchange.GetServerTime(ctx); err != nil {
				return fmt.Errorf("failed to connect to Binance API: %w", err)
			}
			a.log.Info("Successfully connected to Binance API.")

			var server *trader.APIServer
			if !noServer {
				server = trader.NewAPIServer(a.engine, &a.cfg, a.log)
				server.Start()
			}

			a.engine.Run(ctx)

			if server != nil {
				stopCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
				defer stop()
				if err := server.Stop(stopCtx); err != nil {
					a.log.Error("API server shutdown failed", zap.Error(err))
				}
			}
			a.log.Info("Bot has been shut down.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&noServer, "no-server", false, "Do not start the trigger server")
	return cmd
}

// newServeCmd only exposes the trigger endpoints, for externally scheduled deployments.
func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the authenticated cycle and metrics triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.log.Sync()

			ctx, cancel := signalContext(a.log)
			defer cancel()

			server := trader.NewAPIServer(a.engine, &a.cfg, a.log)
			server.Start()
			<-ctx.Done()

			stopCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stop()
			return server.Stop(stopCtx)
		},
	}
}

func newCycleCmd(configPath *string) *cobra.Command {
	var model, symbol string

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run a single decision cycle and print the recorded chat",
		Example: `  trader cycle
  trader cycle --model openrouter --symbol ETH`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.log.Sync()

			ctx, cancel := signalContext(a.log)
			defer cancel()

			chat, err := a.engine.RunCycle(ctx, trader.NewCycleRequest(a.cfg.Trading, model, symbol))
			if err != nil {
				return err
			}
			return printJSON(cmd, chat)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Backend override: "+fmt.Sprint(backend.Kinds))
	cmd.Flags().StringVar(&symbol, "symbol", "", "Base asset, e.g. BTC (configured symbol if empty)")
	return cmd
}

func newMetricsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Capture account metrics once and print them",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.log.Sync()

			ctx, cancel := signalContext(a.log)
			defer cancel()

			metric, err := a.engine.CaptureMetrics(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, metric)
		},
	}
}

// bootstrap loads the configuration and wires the engine.
func bootstrap(configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("could not initialize logger: %w", err)
	}
	log.Info("Configuration loaded",
		zap.String("backend", cfg.Backend.Model),
		zap.String("symbol", cfg.Trading.Symbol),
		zap.Bool("dry_run", cfg.Trading.DryRun))

	db, err := database.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("Database connection successful and schema migrated.")

	exchange := binance.NewRestClient(&cfg.Binance, log)
	selector := backend.NewSelector(cfg.Backend.Model, backend.NewBackends(cfg.Backend, log))
	engine := trader.NewEngine(log, &cfg, exchange, selector, ledger.NewWriter(db, log))

	return &app{cfg: cfg, log: log, exchange: exchange, engine: engine}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigchan:
			log.Info("Shutdown signal received, gracefully shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigchan)
	}()
	return ctx, cancel
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
