package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"cinder/tools/replay_player"
)

func main() {
	path := flag.String("path", "", "Path to a capture directory or its manifest.json")
	list := flag.String("list", "", "List every capture found under this directory")
	tick := flag.Uint64("tick", 0, "Dump the full frame captured at this tick instead of a summary")
	flag.Parse()

	var (
		payload any
		err     error
	)
	switch {
	case *list != "":
		payload, err = replayplayer.List(*list)
	case *path == "":
		fmt.Fprintln(os.Stderr, "path or list flag is required")
		os.Exit(1)
	case *tick > 0:
		payload, err = replayplayer.FrameAt(*path, *tick)
	default:
		payload, err = replayplayer.Summarize(*path)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	//1.- Render as JSON so callers can pipe the output elsewhere.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
