// Command voxdeckd runs the voxdeck gateway: the WebSocket session
// endpoint plus the macro and invoke REST surface.
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
	"syscall"

	"github.com/voxdeck-ai/voxdeck/internal/dotenv"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/config"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/macro"
	gatewayserver "github.com/voxdeck-ai/voxdeck/pkg/gateway/server"
)

type daemonDeps struct {
	loadConfig   func(path string) (config.Config, error)
	openStore    func(path string) (*macro.Store, error)
	newGateway   func(config.Config, *macro.Store, *slog.Logger) *gatewayserver.Server
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultDaemonDeps() daemonDeps {
	return daemonDeps{
		loadConfig: config.Load,
		openStore:  macro.OpenStore,
		newGateway: gatewayserver.New,
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
	}
}

func runDaemon(ctx context.Context, configPath string, logger *slog.Logger, deps daemonDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil || deps.newGateway == nil {
		return errors.New("missing construction dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := deps.openStore(cfg.MacroDBPath)
	if err != nil {
		return fmt.Errorf("open macro store: %w", err)
	}
	defer store.Close()

	gw := deps.newGateway(cfg, store, logger)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"native_enabled", cfg.GeminiAPIKey != "",
		"turn_enabled", cfg.ChatAPIKey != "",
	)

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

	// Hand out resumption tokens before the listener goes away so
	// clients can reconnect elsewhere.
	notified := gw.DrainSessions("server is shutting down")
	logger.Info("draining sessions", "notified", notified)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitSessions(waitCtx) {
		closed := gw.CloseSessions()
		logger.Warn("force-closed lingering sessions", "closed", closed)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, args []string, stderr io.Writer, deps daemonDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	flags := flag.NewFlagSet("voxdeckd", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "path to a YAML config file overlaying the environment")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before reading the environment")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if err := dotenv.LoadFile(*envFile); err != nil {
		fmt.Fprintf(stderr, "voxdeckd: %v\n", err)
		return 1
	}

	if err := runDaemon(ctx, *configPath, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voxdeckd: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stderr, defaultDaemonDeps()))
}
