// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/taskhub/taskhub/internal/auth"
	"github.com/taskhub/taskhub/internal/config"
	"github.com/taskhub/taskhub/internal/core"
	"github.com/taskhub/taskhub/internal/logging"
	"github.com/taskhub/taskhub/internal/observability"
	"github.com/taskhub/taskhub/internal/realtime"
	"github.com/taskhub/taskhub/pkg/errutil"
)

const serviceName = "taskhub"

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the real-time notification server",
		Long: `Start the HTTP server that accepts authenticated websocket
connections and pushes task notifications to them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd, nil)
		},
	}

	defaults := config.Defaults()
	cmd.Flags().String("listen-addr", defaults["listen_addr"].(string), "HTTP listen address")
	cmd.Flags().String("metrics-addr", defaults["metrics_addr"].(string), "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("socket-path", defaults["socket_path"].(string), "websocket endpoint path")
	cmd.Flags().String("log-format", defaults["log_format"].(string), "log format (json or text)")
	cmd.Flags().String("log-level", defaults["log_level"].(string), "log level (debug, info, warn, error)")
	cmd.Flags().String("cors-origin", defaults["cors_origin"].(string), "allowed browser origins, comma-separated or *")
	cmd.Flags().String("jwt-issuer", "", "required token issuer (empty = not checked)")
	cmd.Flags().Bool("realtime-enabled", true, "enable real-time notifications")
	cmd.Flags().Duration("shutdown-timeout", defaults["shutdown_timeout"].(time.Duration), "graceful shutdown timeout")

	return cmd
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// ListenerFactory creates the HTTP listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// Signals lists the signals that trigger a graceful shutdown.
	// Default: SIGINT, SIGTERM
	Signals []os.Signal
}

// app is the wired real-time layer.
type app struct {
	bus      *core.Bus
	registry *core.ConnectionRegistry
	gateway  *realtime.Gateway
	emitter  *realtime.GatewayEmitter
	bridge   *realtime.Bridge
}

// newApp builds the registry, gateway, emitter and bridge from cfg. Nothing
// is initialized yet.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	var verifier auth.Verifier = auth.VerifierFunc(func(context.Context, string) (auth.Identity, error) {
		return auth.Identity{}, oops.Code(auth.CodeTokenInvalid).Errorf("real-time layer disabled")
	})
	if cfg.Realtime.Enabled {
		v, err := auth.NewJWTVerifier(cfg.JWT())
		if err != nil {
			return nil, err
		}
		verifier = v
	}

	a := &app{
		bus:      core.NewBusWithLogger(logger),
		registry: core.NewConnectionRegistry(),
	}

	gw, err := realtime.NewGateway(realtime.GatewayConfig{
		Enabled:        cfg.Realtime.Enabled,
		Verifier:       verifier,
		Registry:       a.registry,
		AllowedOrigins: cfg.AllowedOrigins(),
		Socket:         cfg.SocketOptions(),
		Logger:         logger,
	})
	if err != nil {
		return nil, oops.With("operation", "create_gateway").Wrap(err)
	}
	a.gateway = gw
	a.emitter = realtime.NewEmitter(gw, logger)
	a.bridge = realtime.NewBridge(a.bus, a.emitter, realtime.BridgeOptions{
		Enabled: cfg.Realtime.Enabled,
		Logger:  logger,
	})
	return a, nil
}

// start initializes the gateway and subscribes the bridge.
func (a *app) start() {
	a.gateway.Initialize()
	a.bridge.Init()
}

// stop releases the bridge subscriptions and shuts the gateway down.
func (a *app) stop(ctx context.Context) error {
	a.bridge.Dispose()
	return a.gateway.Shutdown(ctx)
}

// ready reports whether the server should receive traffic.
func (a *app) ready() bool {
	return !a.gateway.Stats().Enabled || a.gateway.Initialized()
}

// handler mounts the socket endpoint and its stats at socketPath.
func (a *app) handler(socketPath string, metrics *observability.Metrics) http.Handler {
	instrument := func(_ string, h http.Handler) http.Handler { return h }
	if metrics != nil {
		instrument = metrics.Instrument
	}

	mux := http.NewServeMux()
	mux.Handle(socketPath, instrument("socket", a.gateway))
	mux.Handle(socketPath+"/stats", instrument("socket_stats", a.gateway.StatsHandler()))
	return mux
}

// runServe runs the server until ctx is cancelled, a shutdown signal arrives
// or a server fails. If deps is nil, default implementations are used.
func runServe(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}
	if deps.Signals == nil {
		deps.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	if err := cfg.Validate(); err != nil {
		return oops.Wrapf(err, "invalid configuration")
	}

	logger := logging.SetDefault(serviceName, version, cfg.LogFormat, cfg.LogLevel)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	var obsServer *observability.Server
	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, a.ready, realtime.RegisterMetrics)
		metrics = obsServer.Metrics()
		metrics.BuildInfo.WithLabelValues(version).Set(1)
	}

	listener, err := deps.ListenerFactory("tcp", cfg.ListenAddr)
	if err != nil {
		return oops.With("addr", cfg.ListenAddr).Wrapf(err, "listen")
	}
	httpServer := &http.Server{
		Handler:           a.handler(cfg.SocketPath, metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stopSignals := signal.NotifyContext(ctx, deps.Signals...)
	defer stopSignals()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.start()

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			_ = listener.Close()
			return oops.Wrapf(err, "start observability server")
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	cmd.Println("TaskHub server started")
	logger.Info("taskhub ready",
		"addr", listener.Addr().String(),
		"socket_path", cfg.SocketPath,
		"realtime_enabled", cfg.Realtime.Enabled,
	)

	var runErr error
	select {
	case err := <-errChan:
		runErr = oops.Wrapf(err, "http server")
	case <-ctx.Done():
		logger.Info("shutting down", "cause", context.Cause(ctx))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Connected clients are told before the listener goes away.
	if err := a.stop(shutdownCtx); err != nil {
		errutil.LogWarn(logger, "gateway shutdown incomplete", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

// monitorServerErrors cancels ctx when a background server reports an error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			slog.Error("server failed", "server", name, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
