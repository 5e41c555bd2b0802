package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vango-go/vai-switchboard/internal/dotenv"
	"github.com/vango-go/vai-switchboard/pkg/agents"
	"github.com/vango-go/vai-switchboard/pkg/agents/tools"
	"github.com/vango-go/vai-switchboard/pkg/gateway/config"
	"github.com/vango-go/vai-switchboard/pkg/gateway/live/orchestrator"
	gatewayserver "github.com/vango-go/vai-switchboard/pkg/gateway/server"
	"github.com/vango-go/vai-switchboard/pkg/realtime"
)

type switchboardDeps struct {
	loadConfig   func() (config.Config, error)
	loadRoster   func(path string, reg *tools.Registry) (*agents.Roster, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultSwitchboardDeps() switchboardDeps {
	return switchboardDeps{
		loadConfig: config.LoadFromEnv,
		loadRoster: agents.LoadFile,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runSwitchboard(ctx context.Context, logger *slog.Logger, deps switchboardDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.loadRoster == nil {
		return errors.New("missing loadRoster dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg, err := builtinRegistry(logger)
	if err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	roster, err := deps.loadRoster(cfg.AgentsFile, reg)
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}

	dialer := realtime.NewDialer(realtime.Options{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.RealtimeBaseURL,
		Logger:       logger,
		WriteTimeout: cfg.UpstreamWriteTimeout,
	})

	orch := orchestrator.New(roster, dialer, logger)
	gw := gatewayserver.New(cfg, roster, orch, logger)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting switchboard", "addr", cfg.Addr, "agents", roster.Names(), "single_agent", roster.SingleAgent)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	orch.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("switchboard stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps switchboardDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "switchboard: %v\n", err)
		return 1
	}

	if err := runSwitchboard(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "switchboard: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultSwitchboardDeps()))
}
