package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"

	"cinder/internal/auth"
	"cinder/internal/config"
	"cinder/internal/feed"
	"cinder/internal/logging"
	"cinder/internal/simulation"
	termviewer "cinder/tools/term_viewer"
)

func main() {
	remote := flag.String("remote", "", "Host stream to follow, e.g. ws://127.0.0.1:43127/ws. Empty runs the simulation locally")
	viewerSecret := flag.String("viewer-secret", os.Getenv("CINDER_VIEWER_TOKEN_SECRET"), "Secret used to mint a viewer token for the remote stream")
	adminToken := flag.String("admin-token", os.Getenv("CINDER_ADMIN_TOKEN"), "Admin token for remote pause and reset")
	fps := flag.Float64("fps", termviewer.DefaultFPS, "Redraw rate")
	logPath := flag.String("log", "", "Write viewer logs to this file")
	flag.Parse()

	if err := run(*remote, *viewerSecret, *adminToken, *logPath, *fps); err != nil {
		fmt.Fprintln(os.Stderr, "term_viewer:", err)
		os.Exit(1)
	}
}

func run(remote, viewerSecret, adminToken, logPath string, fps float64) error {
	//1.- The terminal belongs to the renderer, so logs go to a file or nowhere.
	var sink io.Writer = io.Discard
	if logPath != "" {
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		defer file.Close()
		sink = file
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.NewWriterLogger(sink, cfg.Logging.Level)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//2.- Pick the frame source.
	var source feed.Source
	if remote == "" {
		source, err = feed.NewLocal(simulation.EngineConfigFrom(cfg.Simulation, 0),
			simulation.WithLogger(logger.With(logging.String("component", "engine"))))
	} else {
		source, err = dialRemote(ctx, remote, viewerSecret, adminToken, logger)
	}
	if err != nil {
		return err
	}
	defer source.Close()

	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()
	screen.EnableMouse()
	screen.HideCursor()

	viewer := termviewer.New(screen, source, cfg.Simulation.TrailScale, logger)
	return viewer.Run(ctx, fps)
}

func dialRemote(ctx context.Context, remote, viewerSecret, adminToken string, logger *logging.Logger) (*feed.Remote, error) {
	opts := feed.RemoteOptions{URL: remote, AdminToken: adminToken, Logger: logger}
	if viewerSecret != "" {
		keyring, err := auth.NewKeyring(viewerSecret, 0)
		if err != nil {
			return nil, err
		}
		token, err := keyring.Issue("term_viewer", time.Hour)
		if err != nil {
			return nil, err
		}
		opts.ViewerToken = token
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return feed.DialRemote(dialCtx, opts)
}
