package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"cinder/internal/networking"
)

// Client calls cinder.v1.SnapshotStream over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// SnapshotReceiver yields decoded frames from an open stream.
type SnapshotReceiver struct {
	stream     grpc.ClientStream
	compressor Compressor
	encoding   string
}

// StreamSnapshots opens the frame stream. Call Recv until it returns io.EOF.
func (c *Client) StreamSnapshots(ctx context.Context, opts ...grpc.CallOption) (*SnapshotReceiver, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], StreamSnapshotsMethod, opts...)
	if err != nil {
		return nil, err
	}
	//1.- io.EOF means the server already ended the call; Recv reports its status.
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	receiver := &SnapshotReceiver{stream: stream}
	//2.- The header names the compressor; a failed call may end without one and
	// Recv then reports the status.
	if md, err := stream.Header(); err == nil {
		if values := md.Get(EncodingMetadataKey); len(values) > 0 {
			receiver.encoding = values[0]
		}
	}
	return receiver, nil
}

// Encoding returns the compressor name announced by the server.
func (r *SnapshotReceiver) Encoding() string {
	return r.encoding
}

// Recv blocks for the next frame.
func (r *SnapshotReceiver) Recv() (networking.Frame, error) {
	msg := new(wrapperspb.BytesValue)
	if err := r.stream.RecvMsg(msg); err != nil {
		return networking.Frame{}, err
	}
	if r.compressor == nil {
		if r.encoding == "" {
			return networking.Frame{}, fmt.Errorf("stream header missing %s", EncodingMetadataKey)
		}
		compressor, err := CompressorByName(r.encoding)
		if err != nil {
			return networking.Frame{}, err
		}
		r.compressor = compressor
	}
	payload, err := r.compressor.Decompress(msg.GetValue())
	if err != nil {
		return networking.Frame{}, err
	}
	return networking.DecodeFrame(payload)
}

// Control applies a host command and returns the resulting pause state.
func (c *Client) Control(ctx context.Context, command string, opts ...grpc.CallOption) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, ControlMethod, wrapperspb.String(command), out, opts...); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}
