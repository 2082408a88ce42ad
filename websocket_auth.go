package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"cinder/internal/auth"
)

// viewerTokenLeeway tolerates clock skew between the host and token issuers.
const viewerTokenLeeway = 2 * time.Second

type websocketAuthenticator interface {
	Authenticate(r *http.Request) (string, error)
}

type allowAllAuthenticator struct{}

func (allowAllAuthenticator) Authenticate(r *http.Request) (string, error) {
	return r.RemoteAddr, nil
}

type hmacWebsocketAuthenticator struct {
	keyring *auth.Keyring
}

func newHMACWebsocketAuthenticator(secret string) (websocketAuthenticator, error) {
	keyring, err := auth.NewKeyring(secret, viewerTokenLeeway)
	if err != nil {
		return nil, err
	}
	return &hmacWebsocketAuthenticator{keyring: keyring}, nil
}

// newWebsocketAuthenticator enables token checks only when a secret is configured.
func newWebsocketAuthenticator(secret string) (websocketAuthenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return allowAllAuthenticator{}, nil
	}
	return newHMACWebsocketAuthenticator(secret)
}

// Authenticate validates the viewer token and returns the viewer subject.
func (a *hmacWebsocketAuthenticator) Authenticate(r *http.Request) (string, error) {
	if a == nil || a.keyring == nil {
		return "", errors.New("keyring not configured")
	}
	token := strings.TrimSpace(r.URL.Query().Get("auth_token"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Auth-Token"))
	}
	if token == "" {
		return "", errors.New("missing auth token")
	}
	claims, err := a.keyring.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// WithWebsocketAuthenticator wires a custom authenticator into the broker.
func WithWebsocketAuthenticator(authenticator websocketAuthenticator) BrokerOption {
	return func(b *Broker) {
		if b == nil || authenticator == nil {
			return
		}
		b.wsAuthenticator = authenticator
	}
}
