package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/defistate/lpfund-go/cmd/fundsim/config"
	"github.com/defistate/lpfund-go/fund"
	"github.com/defistate/lpfund-go/journal"
	"github.com/defistate/lpfund-go/scenario"
	"github.com/defistate/lpfund-go/streams/jsonrpc/client"
	"github.com/defistate/lpfund-go/streams/jsonrpc/server"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConfigPath      = "config.yaml"
	defaultEventBufferSize = 100
	shutdownTimeout        = 5 * time.Second
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "fundsim",
		Short:         "Simulate liquidity funds on a concentrated-liquidity venue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to the configuration file")

	root.AddCommand(
		newRunCmd(&configPath),
		newServeCmd(&configPath),
		newWatchCmd(),
	)
	return root
}

// --- run ---

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scenario's steps and print a report per fund",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := setup(*configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			w, sc, err := buildWorld(ctx, cfg, logger, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer w.Close()

			if err := w.Run(ctx, sc.Steps); err != nil {
				return err
			}
			return printReports(ctx, cmd.OutOrStdout(), w)
		},
	}
}

// --- serve ---

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the funds over JSON-RPC while the scenario runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := setup(*configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			registry := prometheus.NewRegistry()
			w, sc, err := buildWorld(ctx, cfg, logger, registry)
			if err != nil {
				return err
			}
			defer w.Close()

			g, gctx := errgroup.WithContext(ctx)

			srvCfg := &server.Config{
				Funds:  w.Funds,
				Mu:     w.Mutex(),
				Logger: logger.With("component", "jsonrpc-server"),
			}
			if cfg.Journal != "" {
				store, err := journal.OpenFile(cfg.Journal, logger.With("component", "journal"))
				if err != nil {
					return err
				}
				defer store.Close()
				for _, f := range w.Funds {
					startJournal(gctx, g, store, f)
				}
				srvCfg.Journal = store
			}

			api, err := server.New(srvCfg)
			if err != nil {
				return err
			}
			rpcServer, err := server.NewServer(api)
			if err != nil {
				return err
			}
			defer rpcServer.Stop()

			mux := http.NewServeMux()
			mux.Handle("/ws", rpcServer.WebsocketHandler([]string{"*"}))
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			mux.Handle("/", rpcServer)
			httpServer := &http.Server{Addr: cfg.Listen, Handler: mux}

			g.Go(func() error {
				logger.Info("Serving fund API", "listen", cfg.Listen, "funds", len(w.Funds))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("rpc server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				// A failing step is reported but the API stays up for inspection.
				if err := w.Run(gctx, sc.Steps); err != nil {
					if !errors.Is(err, context.Canceled) {
						logger.Error("Scenario failed", "error", err)
					}
					return nil
				}
				logger.Info("Scenario complete; still serving", "steps", len(sc.Steps))
				return nil
			})
			return g.Wait()
		},
	}
}

// startJournal records f's events into store until ctx ends.
func startJournal(ctx context.Context, g *errgroup.Group, store *journal.Store, f *fund.Fund) {
	events := make(chan fund.Event, defaultEventBufferSize)
	sub := f.SubscribeEvents(events)
	g.Go(func() error {
		defer sub.Unsubscribe()
		if err := store.Run(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("journal %s: %w", f.Address().Hex(), err)
		}
		return nil
	})
}

// --- watch ---

func newWatchCmd() *cobra.Command {
	var (
		url      string
		fundAddr string
		from     int64
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a fund's event stream and print each event as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !common.IsHexAddress(fundAddr) {
				return fmt.Errorf("invalid fund address %q", fundAddr)
			}
			logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), nil))
			cfg := client.Config{
				URL:        url,
				Fund:       common.HexToAddress(fundAddr),
				Logger:     logger.With("component", "jsonrpc-client"),
				BufferSize: defaultEventBufferSize,
			}
			if from >= 0 {
				start := uint64(from)
				cfg.From = &start
			}
			c, err := client.NewClient(ctx, cfg)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				select {
				case e := <-c.Events():
					if err := enc.Encode(e); err != nil {
						return err
					}
				case err, ok := <-c.Err():
					if ok && err != nil {
						return err
					}
					return nil
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://127.0.0.1:8645/ws", "websocket URL of a fundsim server")
	cmd.Flags().StringVar(&fundAddr, "fund", "", "address of the fund to follow")
	cmd.Flags().Int64Var(&from, "from", -1, "replay journaled events from this sequence number (-1 for live only)")
	_ = cmd.MarkFlagRequired("fund")
	return cmd
}

// --- helpers ---

func setup(configPath string, logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))
	logger.Info("Loaded configuration", "path", configPath, "scenario", cfg.Scenario)
	return cfg, logger, nil
}

func buildWorld(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*scenario.World, *scenario.Scenario, error) {
	sc, err := scenario.Load(cfg.Scenario)
	if err != nil {
		return nil, nil, err
	}
	w, err := scenario.Build(ctx, sc, scenario.Options{
		Logger:     logger.With("component", "scenario"),
		Registerer: reg,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.MaxPriceImpact != nil {
		governance := scenario.AccountAddress(sc.Controller.Governance)
		if err := w.Controller.SetMaxPriceImpact(governance, *cfg.MaxPriceImpact); err != nil {
			w.Close()
			return nil, nil, err
		}
	}
	return w, sc, nil
}

func printReports(ctx context.Context, out io.Writer, w *scenario.World) error {
	reports := make([]*scenario.Report, 0, len(w.Funds))
	for i := range w.Funds {
		r, err := w.Report(ctx, i)
		if err != nil {
			return err
		}
		reports = append(reports, r)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}
