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

	"google.golang.org/grpc"

	"cinder/internal/config"
	grpcapi "cinder/internal/grpc"
	httpapi "cinder/internal/http"
	"cinder/internal/logging"
	"cinder/internal/networking"
	"cinder/internal/replay"
	"cinder/internal/simulation"
)

const (
	shutdownTimeout = 5 * time.Second
	replaySessionID = "cinder"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "cinder:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, err := newHost(cfg, logger)
	if err != nil {
		logger.Error("host setup failed", logging.Error(err))
		return err
	}
	return host.Run(ctx)
}

// host owns every long-lived component of the service.
type host struct {
	cfg        *config.Config
	log        *logging.Logger
	hub        *networking.Hub
	metrics    *networking.SnapshotMetrics
	engine     *simulation.Engine
	broker     *Broker
	recorder   *replay.Writer
	cleaner    *replay.Cleaner
	handler    http.Handler
	grpcServer *grpc.Server
	// limiter is shared by HTTP and gRPC control so both count against one window.
	limiter    *httpapi.SlidingWindowLimiter
}

func newHost(cfg *config.Config, logger *logging.Logger) (*host, error) {
	h := &host{cfg: cfg, log: logger}
	h.limiter = httpapi.NewSlidingWindowLimiter(cfg.ControlWindow, cfg.ControlBurst, nil)
	h.metrics = networking.NewSnapshotMetrics()
	h.hub = networking.NewHub(h.metrics)

	//1.- Optional capture of frames and control events.
	engineOpts := []simulation.EngineOption{
		simulation.WithPublisher(h.hub),
		simulation.WithLogger(logger.With(logging.String("component", "engine"))),
	}
	if cfg.Replay.Enabled() {
		writer, manifest, err := replay.NewWriter(cfg.Replay.Dir, replaySessionID, cfg.Replay.FrameInterval, nil)
		if err != nil {
			return nil, fmt.Errorf("open replay writer: %w", err)
		}
		writer.SetHeaderMetadata(cfg.Simulation.Seed, replayParameters(cfg.Simulation))
		h.recorder = writer
		h.cleaner = replay.NewCleaner(cfg.Replay.Dir, replay.RetentionPolicy{
			MaxSessions: cfg.Replay.MaxSessions,
			MaxAge:      cfg.Replay.MaxAge,
		}, logger.With(logging.String("component", "replay_cleaner")))
		engineOpts = append(engineOpts, simulation.WithRecorder(writer))
		logger.Info("replay capture enabled",
			logging.String("directory", writer.Directory()),
			logging.Int("frame_interval_ms", manifest.FrameIntervalMs),
		)
	}

	//2.- Build and seed the simulation.
	engine, err := simulation.NewEngine(simulation.EngineConfigFrom(cfg.Simulation, cfg.BroadcastHz), engineOpts...)
	if err != nil {
		h.closeRecorder()
		return nil, fmt.Errorf("build engine: %w", err)
	}
	h.engine = engine

	//3.- Websocket viewers and the HTTP surface.
	authenticator, err := newWebsocketAuthenticator(cfg.ViewerTokenSecret)
	if err != nil {
		h.closeRecorder()
		return nil, fmt.Errorf("viewer auth: %w", err)
	}
	h.broker = NewBroker(h.hub, cfg.MaxClients, cfg.PingInterval, cfg.AllowedOrigins,
		logger.With(logging.String("component", "broker")), WithWebsocketAuthenticator(authenticator))
	h.handler = h.buildHandler()

	//4.- The gRPC frame stream, unless disabled.
	if cfg.GRPCEnabled() {
		compressor, err := grpcapi.CompressorByName(cfg.GRPCEncoding)
		if err != nil {
			h.closeRecorder()
			return nil, fmt.Errorf("grpc encoding: %w", err)
		}
		h.grpcServer = grpc.NewServer(grpcapi.ServerOptions(cfg.GRPCSharedSecret)...)
		grpcapi.Register(h.grpcServer, grpcapi.NewService(h.hub,
			grpcapi.WithCompressor(compressor),
			grpcapi.WithRateHz(cfg.BroadcastHz),
			grpcapi.WithControl(engine),
			grpcapi.WithControlSecret(cfg.GRPCSharedSecret),
			grpcapi.WithControlLimiter(h.limiter),
			grpcapi.WithLogger(logger.With(logging.String("component", "grpc"))),
		))
	}
	return h, nil
}

func (h *host) buildHandler() http.Handler {
	opts := httpapi.Options{
		Logger:      h.log.With(logging.String("component", "http")),
		Readiness:   h.broker,
		Status:      h.engine.Status,
		Frames:      h.engine.Frame,
		Control:     h.engine,
		HubStats:    h.hub.Stats,
		Snapshots:   h.metrics,
		AdminToken:  h.cfg.AdminToken,
		RateLimiter: h.limiter,
	}
	if h.recorder != nil {
		opts.ReplayStats = h.recorder.Stats
	}
	if h.cleaner != nil {
		opts.StorageStats = h.cleaner.Stats
	}
	mux := http.NewServeMux()
	httpapi.NewHandlerSet(opts).Register(mux)
	registerControlDocEndpoints(mux)
	mux.HandleFunc("/ws", h.broker.serveWS)
	return logging.HTTPTraceMiddleware(h.log)(mux)
}

// Run serves until ctx ends or a listener fails, then shuts everything down.
func (h *host) Run(ctx context.Context) error {
	httpListener, err := net.Listen("tcp", h.cfg.Address)
	if err != nil {
		h.shutdown()
		return fmt.Errorf("listen http: %w", err)
	}
	var grpcListener net.Listener
	if h.grpcServer != nil {
		grpcListener, err = net.Listen("tcp", h.cfg.GRPCAddress)
		if err != nil {
			httpListener.Close()
			h.shutdown()
			return fmt.Errorf("listen grpc: %w", err)
		}
	}
	return h.serve(ctx, httpListener, grpcListener)
}

func (h *host) serve(ctx context.Context, httpListener, grpcListener net.Listener) error {
	server := &http.Server{Handler: h.handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 2)

	h.engine.Start(ctx)
	if h.cleaner != nil {
		h.cleaner.RunOnce()
		go h.cleaner.Run(ctx, h.cfg.Replay.SweepInterval)
	}
	go func() {
		if err := server.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	h.log.Info("http listening",
		logging.String("url", listenerURL("http", httpListener.Addr().String())),
		logging.String("stream", streamURL(httpListener.Addr().String())),
	)
	if grpcListener != nil {
		go func() {
			if err := h.grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
		h.log.Info("grpc listening", logging.String("url", listenerURL("grpc", grpcListener.Addr().String())))
	}

	var runErr error
	select {
	case <-ctx.Done():
		h.log.Info("shutdown requested")
	case runErr = <-errCh:
		h.broker.SetStartupError(runErr)
		h.log.Error("listener failed", logging.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	//1.- Stop producing frames, then end every stream so graceful stops return.
	h.shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		h.log.Warn("http shutdown incomplete", logging.Error(err))
	}
	if h.grpcServer != nil {
		h.grpcServer.GracefulStop()
	}
	return runErr
}

func (h *host) shutdown() {
	if h.engine != nil {
		h.engine.Stop()
	}
	h.hub.Close()
	if h.broker != nil {
		h.broker.Close()
	}
	h.closeRecorder()
}

func (h *host) closeRecorder() {
	if h.recorder == nil {
		return
	}
	if err := h.recorder.Close(); err != nil {
		h.log.Warn("replay writer close failed", logging.Error(err))
	}
}

// replayParameters records the constants a capture was produced with.
func replayParameters(sim config.SimulationConfig) replay.Parameters {
	return replay.Parameters{
		"gravity":          sim.Gravity,
		"restitution":      sim.Restitution,
		"damping":          sim.Damping,
		"max_population":   float64(sim.MaxPopulation),
		"spawn_batch_size": float64(sim.SpawnBatch),
		"max_lifetime":     sim.MaxLifetime,
		"dt":               sim.Timestep,
		"seed_count":       float64(sim.SeedCount),
		"target_hz":        sim.TargetHz,
		"trail_scale":      sim.TrailScale,
	}
}
