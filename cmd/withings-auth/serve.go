package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/withings-auth/internal/auth"
	"github.com/alexjbarnes/withings-auth/internal/config"
	"github.com/alexjbarnes/withings-auth/internal/globalvars"
	"github.com/alexjbarnes/withings-auth/internal/mcpserver"
	"github.com/alexjbarnes/withings-auth/internal/nodes"
	"github.com/alexjbarnes/withings-auth/internal/server"
	"github.com/alexjbarnes/withings-auth/internal/state"
	"github.com/alexjbarnes/withings-auth/withings"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// purgeInterval is how often expired pending states are removed.
const purgeInterval = 5 * time.Minute

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the callback server and MCP endpoint",
		Long: `Run the HTTP service.

With ENABLE_CALLBACK, GET /authorize starts the consent flow and
GET /callback exchanges the code and shows the tokens once. With
ENABLE_MCP, /mcp serves the MCP tools behind API key authentication.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, a.cfg, a.logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.ValidateService(); err != nil {
		return err
	}

	logger.Info("withings-auth starting",
		slog.String("version", Version),
		slog.Bool("callback", cfg.EnableCallback),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	appState, err := state.LoadAt(cfg.StateDB)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	client := cfg.NewClient(withings.WithLogger(logger.With(slog.String("component", "withings"))))
	creds := (&app{cfg: cfg}).credentials()

	var (
		vars    nodes.VariableSource
		watcher *globalvars.Watcher
	)

	if cfg.GlobalVariablesFile != "" {
		watcher, err = globalvars.NewWatcher(cfg.GlobalVariablesFile, logger)
		if err != nil {
			return fmt.Errorf("loading global variables: %w", err)
		}

		vars = watcher
	}

	muxCfg := server.MuxConfig{
		Client:         client,
		Credentials:    creds,
		State:          appState,
		Logger:         logger,
		EnableCallback: cfg.EnableCallback,
		EnableMCP:      cfg.EnableMCP,
	}

	if cfg.EnableMCP {
		entries, err := cfg.ParseAPIKeys()
		if err != nil {
			return fmt.Errorf("parsing API keys: %w", err)
		}

		keys := make([]auth.APIKey, len(entries))
		for i, e := range entries {
			keys[i] = auth.APIKey{Name: e.Name, Hash: e.Hash}
		}

		mcpServer := mcp.NewServer(
			&mcp.Implementation{Name: "withings-auth", Version: Version},
			nil,
		)
		mcpserver.RegisterTools(mcpServer, mcpserver.Deps{
			Client:      client,
			Credentials: creds,
			State:       appState,
			Variables:   vars,
			Logger:      logger.With(slog.String("service", "mcp")),
		})

		muxCfg.Keys = auth.NewKeyStore(keys)
		muxCfg.MCPHandler = mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
			return mcpServer
		}, nil)
	}

	g, gctx := errgroup.WithContext(ctx)

	if watcher != nil {
		g.Go(func() error {
			if err := watcher.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		})
	}

	g.Go(func() error {
		purgeLoop(gctx, appState, logger)
		return nil
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.NewMux(muxCfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		logger.Info("starting server",
			slog.String("listen", cfg.ListenAddr),
			slog.String("redirect_uri", cfg.RedirectURI),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	return g.Wait()
}

// purgeLoop removes expired pending states until ctx is done.
func purgeLoop(ctx context.Context, st *state.State, logger *slog.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.PurgeExpiredStates()
			if err != nil {
				logger.Warn("purging expired states", slog.String("error", err.Error()))
				continue
			}

			if n > 0 {
				logger.Debug("purged expired states", slog.Int("count", n))
			}
		}
	}
}
