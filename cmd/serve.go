package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parityleague/league/internal/agent"
	"github.com/parityleague/league/internal/config"
	"github.com/parityleague/league/internal/log"
	"github.com/parityleague/league/internal/mcp"
	"github.com/parityleague/league/internal/observability"
	"github.com/parityleague/league/internal/standings"
)

var (
	managerName string
	stdioMode   bool
)

var serveManagerCmd = &cobra.Command{
	Use:   "serve-manager",
	Short: "Run the league manager agent",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context(), buildManager)
	},
}

var serveRefereeCmd = &cobra.Command{
	Use:   "serve-referee",
	Short: "Run a referee agent",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context(), buildReferee)
	},
}

var servePlayerCmd = &cobra.Command{
	Use:   "serve-player",
	Short: "Run a player agent",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context(), buildPlayer)
	},
}

func init() {
	serveRefereeCmd.Flags().StringVar(&managerName, "manager", "manager",
		"server name of the league manager session (empty disables result reporting)")
	for _, c := range []*cobra.Command{serveManagerCmd, serveRefereeCmd, servePlayerCmd} {
		c.Flags().BoolVar(&stdioMode, "stdio", false,
			"serve over stdin/stdout instead of HTTP (for child-process agents)")
	}
	rootCmd.AddCommand(serveManagerCmd, serveRefereeCmd, servePlayerCmd)
}

// agentBuilder assembles one role. The returned cleanup runs on shutdown,
// after the HTTP listener has drained.
type agentBuilder func(ctx context.Context, cfg *config.Config, logger log.Logger) (*mcp.Server, func(), error)

func buildManager(ctx context.Context, cfg *config.Config, logger log.Logger) (*mcp.Server, func(), error) {
	var store standings.Store
	if cfg.Storage.InMemory {
		logger.Warn("using in-memory standings store; results are lost on restart")
		store = standings.NewMemory()
	} else {
		pg, err := standings.NewPostgres(ctx, cfg.Storage.DSN, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("standings store: %w", err)
		}
		store = pg
	}

	m, err := agent.NewManager(store, cfg.Agent, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return m.Server(), store.Close, nil
}

func buildReferee(ctx context.Context, cfg *config.Config, logger log.Logger) (*mcp.Server, func(), error) {
	client := mcp.NewClient(cfg, nil, logger)
	for _, sc := range cfg.Servers {
		if err := client.Connect(ctx, sc); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect %s: %w", sc.Name, err)
		}
	}

	r, err := agent.NewReferee(client, managerName, cfg.Agent, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return r.Server(), client.Close, nil
}

func buildPlayer(_ context.Context, cfg *config.Config, logger log.Logger) (*mcp.Server, func(), error) {
	p, err := agent.NewPlayer(cfg.Agent, logger)
	if err != nil {
		return nil, nil, err
	}
	return p.Server(), func() {}, nil
}

func runServe(parent context.Context, build agentBuilder) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.Setup(ctx, cfg.Observability, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace flush failed", "err", err)
		}
	}()

	server, cleanup, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if stdioMode {
		logger.Info("agent serving on stdio", "agent", cfg.Agent.Name)
		if err := server.ServeStream(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	httpServer := &http.Server{
		Addr:              cfg.Agent.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agent listening", "agent", cfg.Agent.Name, "addr", cfg.Agent.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(drainCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
