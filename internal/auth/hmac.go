// Package auth issues and verifies the compact HS256 tokens viewers present
// when opening the websocket frame stream.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ViewerAudience is stamped into every issued token and required on verify.
const ViewerAudience = "cinder-viewer"

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrEmptySecret rejects signers and verifiers without key material.
	ErrEmptySecret = errors.New("hmac secret must not be empty")
)

// ViewerClaims identify one viewer connection.
type ViewerClaims struct {
	Subject   string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

type tokenPayload struct {
	Subject  string `json:"sub"`
	Audience string `json:"aud"`
	Issued   int64  `json:"iat"`
	Expires  int64  `json:"exp"`
}

// Keyring holds the shared secret used to sign and verify viewer tokens.
type Keyring struct {
	secret []byte
	now    func() time.Time
	leeway time.Duration
}

// NewKeyring builds a keyring for secret, tolerating leeway of clock skew on expiry.
func NewKeyring(secret string, leeway time.Duration) (*Keyring, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if leeway < 0 {
		leeway = 0
	}
	return &Keyring{secret: []byte(secret), now: time.Now, leeway: leeway}, nil
}

// WithClock overrides the keyring clock for deterministic tests.
func (k *Keyring) WithClock(clock func() time.Time) {
	if clock != nil {
		k.now = clock
	}
}

// Issue mints a token for subject valid for ttl.
func (k *Keyring) Issue(subject string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: ttl must be positive", ErrInvalidToken)
	}
	now := k.now()
	header, err := json.Marshal(tokenHeader{Algorithm: "HS256", Type: "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(tokenPayload{
		Subject:  subject,
		Audience: ViewerAudience,
		Issued:   now.Unix(),
		Expires:  now.Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	signingInput := encodeSegment(header) + "." + encodeSegment(payload)
	return signingInput + "." + encodeSegment(k.sign([]byte(signingInput))), nil
}

// Verify checks signature, audience and expiry and returns the claims.
func (k *Keyring) Verify(token string) (*ViewerClaims, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	//1.- Check the algorithm before trusting anything else.
	var header tokenHeader
	if err := decodeJSONSegment(parts[0], &header); err != nil {
		return nil, ErrInvalidToken
	}
	if header.Algorithm != "HS256" {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, header.Algorithm)
	}
	//2.- Compare signatures in constant time.
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(signature, k.sign([]byte(parts[0]+"."+parts[1]))) {
		return nil, ErrInvalidToken
	}
	//3.- Validate the claims.
	var payload tokenPayload
	if err := decodeJSONSegment(parts[1], &payload); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(payload.Subject) == "" || payload.Expires <= 0 {
		return nil, ErrInvalidToken
	}
	if payload.Audience != ViewerAudience {
		return nil, fmt.Errorf("%w: audience %q", ErrInvalidToken, payload.Audience)
	}
	expiresAt := time.Unix(payload.Expires, 0)
	if expiresAt.Add(k.leeway).Before(k.now()) {
		return nil, ErrExpiredToken
	}
	return &ViewerClaims{
		Subject:   payload.Subject,
		Audience:  payload.Audience,
		IssuedAt:  time.Unix(payload.Issued, 0),
		ExpiresAt: expiresAt,
	}, nil
}

func (k *Keyring) sign(input []byte) []byte {
	mac := hmac.New(sha256.New, k.secret)
	mac.Write(input)
	return mac.Sum(nil)
}

func encodeSegment(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeJSONSegment(segment string, out any) error {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
