package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cinder/internal/auth"
	"cinder/internal/config"
	"cinder/internal/feed"
	"cinder/internal/logging"
	"cinder/internal/simulation"
	windowviewer "cinder/tools/window_viewer"
)

func main() {
	remote := flag.String("remote", "", "Host stream to follow, e.g. ws://127.0.0.1:43127/ws. Empty runs the simulation locally")
	viewerSecret := flag.String("viewer-secret", os.Getenv("CINDER_VIEWER_TOKEN_SECRET"), "Secret used to mint a viewer token for the remote stream")
	adminToken := flag.String("admin-token", os.Getenv("CINDER_ADMIN_TOKEN"), "Admin token for remote pause and reset")
	flag.Parse()

	if err := run(*remote, *viewerSecret, *adminToken); err != nil {
		fmt.Fprintln(os.Stderr, "window_viewer:", err)
		os.Exit(1)
	}
}

func run(remote, viewerSecret, adminToken string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.NewWriterLogger(os.Stderr, cfg.Logging.Level)
	if err != nil {
		return err
	}

	var source feed.Source
	if remote == "" {
		source, err = feed.NewLocal(simulation.EngineConfigFrom(cfg.Simulation, 0),
			simulation.WithLogger(logger.With(logging.String("component", "engine"))))
	} else {
		opts := feed.RemoteOptions{URL: remote, AdminToken: adminToken, Logger: logger}
		if viewerSecret != "" {
			keyring, kerr := auth.NewKeyring(viewerSecret, 0)
			if kerr != nil {
				return kerr
			}
			if opts.ViewerToken, err = keyring.Issue("window_viewer", time.Hour); err != nil {
				return err
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		source, err = feed.DialRemote(ctx, opts)
	}
	if err != nil {
		return err
	}
	defer source.Close()

	return windowviewer.Run(windowviewer.New(source, cfg.Simulation.TrailScale, logger))
}
