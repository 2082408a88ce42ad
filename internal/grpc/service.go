// Package grpc serves the snapshot stream and host controls over gRPC. The
// service descriptor is declared by hand; messages are protobuf well-known
// types so no generated code is required.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"cinder/internal/logging"
	"cinder/internal/networking"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "cinder.v1.SnapshotStream"
	// StreamSnapshotsMethod streams encoded frames to the caller.
	StreamSnapshotsMethod = "/" + ServiceName + "/StreamSnapshots"
	// ControlMethod applies a host command.
	ControlMethod = "/" + ServiceName + "/Control"
	// EncodingMetadataKey carries the frame compressor name in the stream header.
	EncodingMetadataKey = "x-cinder-encoding"
	// CodecMetadataKey carries the frame payload codec in the stream header.
	CodecMetadataKey = "x-cinder-codec"
	// FrameCodec identifies the payload format produced by networking.EncodeFrame.
	FrameCodec = "cinder.frame.v1"

	defaultStreamRateHz = 20
)

// SnapshotStreamServer is the server API of cinder.v1.SnapshotStream.
type SnapshotStreamServer interface {
	StreamSnapshots(*emptypb.Empty, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
	Control(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
}

// ServiceDesc describes cinder.v1.SnapshotStream for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SnapshotStreamServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Control", Handler: controlHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamSnapshots", Handler: streamSnapshotsHandler, ServerStreams: true},
	},
	Metadata: "cinder/v1/snapshot.proto",
}

// Register attaches the service to a gRPC server.
func Register(registrar grpc.ServiceRegistrar, srv SnapshotStreamServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

func streamSnapshotsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SnapshotStreamServer).StreamSnapshots(in, &grpc.GenericServerStream[emptypb.Empty, wrapperspb.BytesValue]{ServerStream: stream})
}

func controlHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotStreamServer).Control(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ControlMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SnapshotStreamServer).Control(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Option customises the behaviour of the gRPC service.
type Option func(*Service)

// tickerFactory constructs cancellable tick channels for throttled streaming.
type tickerFactory func(time.Duration) (<-chan time.Time, func())

// WithCompressor overrides the default payload compressor.
func WithCompressor(compressor Compressor) Option {
	return func(s *Service) {
		if compressor != nil {
			s.compressor = compressor
		}
	}
}

// WithRateHz caps how often each stream receives a frame.
func WithRateHz(hz float64) Option {
	return func(s *Service) {
		if hz > 0 {
			s.interval = time.Duration(float64(time.Second) / hz)
		}
	}
}

// WithControl enables the Control RPC.
func WithControl(sink ControlSink) Option {
	return func(s *Service) {
		s.control = sink
	}
}

// WithControlSecret sets the shared secret Control calls must present.
// Without one the Control RPC refuses every command.
func WithControlSecret(secret string) Option {
	return func(s *Service) {
		s.controlSecret = strings.TrimSpace(secret)
	}
}

// WithControlLimiter caps how many Control calls are applied per window.
func WithControlLimiter(limiter ControlLimiter) Option {
	return func(s *Service) {
		s.limiter = limiter
	}
}

// WithLogger sets the logger used for stream lifecycle events.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithTickerFactory overrides the throttling ticker factory (used in tests).
func WithTickerFactory(factory tickerFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.newTicker = factory
		}
	}
}

func defaultTickerFactory(interval time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

// Service implements SnapshotStreamServer on top of a snapshot source.
type Service struct {
	source        SnapshotSource
	control       ControlSink
	controlSecret string
	limiter       ControlLimiter
	compressor    Compressor
	interval      time.Duration
	newTicker     tickerFactory
	log           *logging.Logger
	streams       atomic.Uint64
}

// NewService wires the gRPC service to the snapshot source and optional settings.
func NewService(source SnapshotSource, opts ...Option) *Service {
	service := &Service{
		source:     source,
		compressor: NewGZIPCompressor(),
		interval:   time.Second / defaultStreamRateHz,
		newTicker:  defaultTickerFactory,
		log:        logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

// StreamSnapshots relays the newest frame at the throttled cadence. Frames
// published between two sends are coalesced; the stream ends cleanly when the
// source closes.
func (s *Service) StreamSnapshots(_ *emptypb.Empty, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	if s == nil || s.source == nil {
		return status.Error(codes.FailedPrecondition, "streaming unavailable")
	}
	ctx := stream.Context()
	id := fmt.Sprintf("grpc-%d", s.streams.Add(1))

	//1.- Subscribe before announcing the header so no frame published afterwards is missed.
	frames, cancel, err := s.source.Subscribe(ctx, id, 0)
	if err != nil {
		return status.Errorf(codes.Unavailable, "subscribe snapshots: %v", err)
	}
	defer cancel()

	compressor := s.compressor
	header := metadata.Pairs(EncodingMetadataKey, compressor.Name(), CodecMetadataKey, FrameCodec)
	if err := stream.SendHeader(header); err != nil {
		return err
	}
	logger := s.log.With(logging.String("stream", id))
	logger.Info("snapshot stream opened", logging.String("encoding", compressor.Name()))
	defer logger.Info("snapshot stream closed")

	tickCh, stop := s.newTicker(s.interval)
	defer stop()

	var (
		latest networking.Envelope
		ready  bool
		closed bool
	)
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case env, ok := <-frames:
			if !ok {
				//2.- Source closed: flush the pending frame, if any, then finish.
				frames = nil
				closed = true
				if !ready {
					return nil
				}
				continue
			}
			latest, ready = env, true
		case <-tickCh:
			if !ready {
				if closed {
					return nil
				}
				continue
			}
			compressed, err := compressor.Compress(latest.Payload)
			if err != nil {
				return status.Errorf(codes.Internal, "compress frame: %v", err)
			}
			if err := stream.Send(wrapperspb.Bytes(compressed)); err != nil {
				return err
			}
			ready = false
			if closed {
				return nil
			}
		}
	}
}

// Control applies one of the host commands and returns the resulting pause state.
func (s *Service) Control(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s == nil || s.control == nil {
		return nil, status.Error(codes.Unimplemented, "control unavailable")
	}
	command := strings.ToLower(strings.TrimSpace(req.GetValue()))
	logger := s.log.With(logging.String("command", command))

	//1.- Shared secret first, then the rate window.
	if s.controlSecret == "" {
		logger.Warn("control denied: shared secret not configured")
		return nil, status.Error(codes.PermissionDenied, "control requires a shared secret")
	}
	if err := checkSharedSecret(ctx, s.controlSecret); err != nil {
		logger.Warn("control denied: unauthenticated")
		return nil, err
	}
	if s.limiter != nil && !s.limiter.Allow() {
		logger.Warn("control denied: rate limit exceeded")
		return nil, status.Error(codes.ResourceExhausted, "too many control requests")
	}

	//2.- Validate and apply.
	switch command {
	case CommandPause, CommandResume, CommandToggle, CommandResetClock, CommandStatus:
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown command %q", req.GetValue())
	}
	paused, err := s.control.ApplyCommand(ctx, command)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "apply %s: %v", command, err)
	}
	logger.Info("control command applied", logging.Bool("paused", paused))
	return wrapperspb.Bool(paused), nil
}

var _ SnapshotStreamServer = (*Service)(nil)
