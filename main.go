package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"dispatchd/internal/app"
	"dispatchd/internal/config"
)

const shutdownGrace = 15 * time.Second

func main() {
	root := &cobra.Command{
		Use:           "dispatchd",
		Short:         "Query dispatch server with per-database worker queues",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	var listenAddr, databasesFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dispatch server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			if databasesFile != "" {
				cfg.DatabasesFile = databasesFile
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides LISTEN_ADDR)")
	cmd.Flags().StringVar(&databasesFile, "databases", "", "database roster file (overrides DATABASES_FILE)")
	return cmd
}

// curlHostForListenAddr turns a listen address into something a local curl
// can reach: wildcard and empty hosts become localhost.
func curlHostForListenAddr(listenAddr string) string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return "localhost:8080"
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	default:
		if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
			host = "[" + host + "]"
		}
	}
	return host + ":" + port
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	databases, err := config.LoadDatabases(cfg.DatabasesFile)
	if err != nil {
		return err
	}

	application, err := app.New(app.Deps{Cfg: cfg, Databases: databases, Logger: logger})
	if err != nil {
		return err
	}
	application.Start()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           application.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening",
			"addr", cfg.ListenAddr,
			"databases", len(databases),
			"try", "curl http://"+curlHostForListenAddr(cfg.ListenAddr)+"/healthz")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err.Error())
		}
		return application.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
