package main

import (
	"fmt"
	"net"
	"strings"
)

// listenerURL returns a human-friendly URL for a listener address.
// 1.- Default the scheme to http so bare addresses stay printable.
// 2.- Normalise the configured address so the message always shows a reachable host:port pair.
func listenerURL(scheme, address string) string {
	scheme = strings.TrimSuffix(strings.TrimSpace(scheme), "://")
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, normaliseHostPort(address))
}

// streamURL returns the websocket frame stream endpoint for the HTTP listener.
func streamURL(address string) string {
	return listenerURL("ws", address) + "/ws"
}

func normaliseHostPort(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		if strings.HasPrefix(trimmed, ":") {
			return "localhost" + trimmed
		}
		return trimmed
	}
	host = strings.TrimSpace(host)
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
