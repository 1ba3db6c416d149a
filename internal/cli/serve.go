package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/roach88/duel/internal/api"
	"github.com/roach88/duel/internal/audit"
	"github.com/roach88/duel/internal/card"
	"github.com/roach88/duel/internal/config"
	"github.com/roach88/duel/internal/engine"
	"github.com/roach88/duel/internal/hub"
	"github.com/roach88/duel/internal/replay"
	"github.com/roach88/duel/internal/session"
	"github.com/roach88/duel/internal/snapshot"
	"github.com/roach88/duel/internal/store"
	"github.com/roach88/duel/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigFile string
	EnvFile    string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		Long: `Run the WebSocket event channel and the HTTP query API.

Configuration is read from defaults, then --config (YAML), then --env-file,
then DUEL_* environment variables.

Examples:
  duel serve
  duel serve --config /etc/duel/duel.yaml
  DUEL_HTTP_ADDR=:8080 duel serve`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.Sources{File: opts.ConfigFile, EnvFile: opts.EnvFile})
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			if opts.Verbose {
				cfg.LogLevel = "debug"
			}
			logger := cfg.NewLogger(cmd.ErrOrStderr())

			srv, err := NewServer(cfg, logger)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to start server", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := srv.Run(ctx); err != nil {
				return WrapExitError(ExitFailure, "server failed", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "YAML configuration file")
	cmd.Flags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file (skipped when missing)")

	return cmd
}

// Server is the assembled session server.
type Server struct {
	cfg     config.Config
	store   *store.Store
	reg     *session.Registry
	auditor *audit.Auditor
	echo    *echo.Echo
	logger  *slog.Logger
}

// NewServer opens the store and wires every component. Call Run to serve.
func NewServer(cfg config.Config, logger *slog.Logger) (*Server, error) {
	idx := card.EmptyIndex()
	if cfg.CardIndexPath != "" {
		var err error
		if idx, err = card.LoadIndex(cfg.CardIndexPath); err != nil {
			return nil, err
		}
		logger.Info("card index loaded", "path", cfg.CardIndexPath, "cards", idx.Len())
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	reg := session.New(st,
		session.WithCodeGenerator(session.CodeGenerator{Length: cfg.RoomCodeLength}),
		session.WithScheduler(snapshot.Scheduler{Interval: int64(cfg.SnapshotInterval)}),
		session.WithLogger(logger),
	)
	replays := replay.NewService(st, replay.NewReducer(idx, logger), logger)
	connections := hub.New(hub.WithLogger(logger))
	eng := engine.New(reg, st, connections,
		engine.WithLogger(logger),
		engine.WithCheckpointer(replays),
	)

	wsServer := ws.NewServer(ws.Config{
		PingInterval:    cfg.PingInterval(),
		WriteTimeout:    cfg.WriteTimeout(),
		ReadTimeout:     cfg.ReadTimeout(),
		MaxMessageBytes: int64(cfg.WSMaxMessageBytes),
	}, connections, eng, ws.WithLogger(logger))

	handler := api.NewHandler(st, replays, reg, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))
	wsServer.Register(e)
	handler.RegisterRoutes(e)

	return &Server{
		cfg:     cfg,
		store:   st,
		reg:     reg,
		auditor: audit.New(st, audit.WithLogger(logger)),
		echo:    e,
		logger:  logger,
	}, nil
}

// Run serves until ctx is cancelled, then shuts down and closes the store.
func (s *Server) Run(ctx context.Context) error {
	defer s.store.Close()

	if iv := s.cfg.AuditInterval(); iv > 0 {
		if err := s.auditor.Start(iv); err != nil {
			return err
		}
		defer func() {
			if err := s.auditor.Stop(); err != nil {
				s.logger.Warn("audit stop failed", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.cfg.HTTPAddr, "db", s.cfg.DatabasePath)
		if err := s.echo.Start(s.cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen %s: %w", s.cfg.HTTPAddr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", "live_sessions", s.reg.Len())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown failed", "error", err)
	}
	<-errCh
	s.logger.Info("server stopped")
	return nil
}

// Addr returns the bound listener address, or "" before Run has bound it.
func (s *Server) Addr() string {
	if a := s.echo.ListenerAddr(); a != nil {
		return a.String()
	}
	return ""
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Debug("request", attrs...)
			return nil
		},
	})
}
