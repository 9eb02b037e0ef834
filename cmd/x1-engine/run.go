package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fortiblox/X1-Engine/pkg/node"
	"github.com/fortiblox/X1-Engine/pkg/rpc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runCommand(a *app) *cobra.Command {
	var (
		metricsAddr    string
		statusInterval time.Duration
	)
	c := &cobra.Command{
		Use:   "run",
		Short: "Run the engine node and serve its metrics and query API",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, a, metricsAddr, statusInterval)
		},
	}
	flags := c.Flags()
	flags.StringVar(&metricsAddr, "metrics-addr", ":9090", "Metrics and status listen address, empty to disable")
	flags.DurationVar(&statusInterval, "status-interval", 10*time.Second, "Interval between status log lines")
	return c
}

func runNode(ctx context.Context, a *app, metricsAddr string, statusInterval time.Duration) error {
	a.logger.Info("starting X1-Engine", zap.String("version", Version), zap.String("commit", GitCommit))

	n, err := node.New(a.cfg, a.logger)
	if err != nil {
		return err
	}
	if err := n.Start(ctx); err != nil {
		n.Close()
		return err
	}

	var srv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(n.Registry(), promhttp.HandlerOpts{}))
		mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(n.Status())
		})
		srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		a.logger.Info("serving metrics", zap.String("addr", metricsAddr))
	}

	var rpcServer *rpc.Server
	if a.cfg.RPC.Enabled {
		rcfg := rpc.DefaultConfig()
		rcfg.Addr = a.cfg.RPC.Addr
		rcfg.EnableCORS = a.cfg.RPC.EnableCORS
		rcfg.AllowedOrigins = a.cfg.RPC.AllowedOrigins
		rcfg.LogRequests = a.cfg.RPC.LogRequests
		rcfg.Version = Version
		rcfg.GitCommit = GitCommit
		rpcServer = rpc.New(rcfg, n, a.logger.Named("rpc"))
		go func() {
			if err := rpcServer.Start(ctx); err != nil {
				a.logger.Error("rpc server failed", zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("shutting down")
			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = srv.Shutdown(shutdownCtx)
				cancel()
			}
			if rpcServer != nil {
				_ = rpcServer.Stop()
			}
			return n.Stop()
		case <-ticker.C:
			s := n.Status()
			if rpcServer != nil {
				rpcServer.SetHealthy(s.Running)
			}
			a.logger.Info("status",
				zap.Duration("uptime", s.Uptime),
				zap.Uint64("transactions", s.TxsProcessed),
				zap.Int("queue", s.QueueDepth),
				zap.Uint64("substates", s.Substates),
				zap.Uint64("receipts", s.Receipts),
				zap.String("last_error", s.LastError))
		}
	}
}
