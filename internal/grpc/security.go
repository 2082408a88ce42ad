package grpc

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// SharedSecretMetadataKey carries the shared secret on every call.
const SharedSecretMetadataKey = "x-cinder-shared-secret"

// ServerOptions returns the interceptors guarding both RPC kinds with the
// shared secret. An empty secret leaves the service open.
func ServerOptions(secret string) []grpc.ServerOption {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	return []grpc.ServerOption{
		grpc.ChainStreamInterceptor(NewSharedSecretStreamInterceptor(secret)),
		grpc.ChainUnaryInterceptor(NewSharedSecretUnaryInterceptor(secret)),
	}
}

// NewSharedSecretStreamInterceptor rejects streams without the expected secret.
func NewSharedSecretStreamInterceptor(secret string) grpc.StreamServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := checkSharedSecret(ss.Context(), normalized); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

// NewSharedSecretUnaryInterceptor rejects unary calls without the expected secret.
func NewSharedSecretUnaryInterceptor(secret string) grpc.UnaryServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := checkSharedSecret(ctx, normalized); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func checkSharedSecret(ctx context.Context, expected string) error {
	if expected == "" {
		return status.Error(codes.Unauthenticated, "shared secret not configured")
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	candidate := extractSharedSecret(md)
	if candidate == "" {
		return status.Error(codes.Unauthenticated, "missing shared secret")
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid shared secret")
	}
	return nil
}

func extractSharedSecret(md metadata.MD) string {
	for _, value := range md.Get(SharedSecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}

// SharedSecret attaches the secret to outgoing calls as per-RPC credentials.
type SharedSecret string

// GetRequestMetadata implements credentials.PerRPCCredentials.
func (s SharedSecret) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{SharedSecretMetadataKey: string(s)}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials. The
// secret is sent over plaintext connections too, matching the local setup.
func (SharedSecret) RequireTransportSecurity() bool { return false }
