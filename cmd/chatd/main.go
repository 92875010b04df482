// Command chatd is the chat server.
//
//	chatd [-config file] [-log-level level] [-metrics-addr addr] <port>
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Zereker/chatsock"
	"github.com/Zereker/chatsock/internal/config"
	"github.com/Zereker/chatsock/internal/logging"
	"github.com/Zereker/chatsock/internal/metrics"
	"github.com/Zereker/chatsock/server"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.ParseServerArgs(args, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "chatd:", err)
		return 2
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, logging.IsTerminal(os.Stderr))
	collector := metrics.New()

	opts := []server.Option{
		server.LoggerOption(logger),
		server.MaxConnectionsOption(cfg.MaxConnections),
		server.QueueDepthOption(cfg.QueueDepth),
		server.MetricsOption(collector),
	}
	if cfg.MaxBuffers > 0 {
		opts = append(opts, server.BufferPoolOption(chatsock.NewBufferPool(cfg.MaxBuffers)))
	}

	srv, err := server.New(&net.TCPAddr{Port: cfg.Port}, opts...)
	if err != nil {
		logger.Error("unable to start server", "port", cfg.Port, "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Serve(ctx)
	})

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		hs := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		group.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", "error", err)
		return 1
	}
	return 0
}
