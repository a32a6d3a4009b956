// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sparkconnect

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sort"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// channel is the transport handle of a session. Calls on it are serialized
// by the session.
type channel interface {
	ExecutePlan(ctx context.Context, req *ExecutePlanRequest) (responseStream, error)
	Close() error
}

// responseStream yields the responses of one call. Recv returns io.EOF after
// the last response. Close releases the call and may be called at any time.
type responseStream interface {
	Recv() (*ExecutePlanResponse, error)
	Close()
}

// codec encodes requests and decodes responses with the hand-written
// protobuf wire functions. It is forced on every call so the content
// subtype stays "proto".
type codec struct{}

func (codec) Name() string { return "proto" }

func (codec) Marshal(v any) ([]byte, error) {
	req, ok := v.(*ExecutePlanRequest)
	if !ok {
		return nil, fmt.Errorf("sparkconnect codec: cannot marshal %T", v)
	}
	return MarshalRequest(req), nil
}

func (codec) Unmarshal(data []byte, v any) error {
	resp, ok := v.(*ExecutePlanResponse)
	if !ok {
		return fmt.Errorf("sparkconnect codec: cannot unmarshal into %T", v)
	}
	decoded, err := UnmarshalResponse(data)
	if err != nil {
		return err
	}
	*resp = *decoded
	return nil
}

var executePlanDesc = grpc.StreamDesc{
	StreamName:    "ExecutePlan",
	ServerStreams: true,
}

// grpcChannel is a channel over one gRPC client connection.
type grpcChannel struct {
	conn     *grpc.ClientConn
	callOpts []grpc.CallOption
	headers  []string // key, value pairs
}

// dialChannel creates the gRPC connection for remote. The connection is
// lazy unless cfg.ConnectTimeout is positive.
func dialChannel(ctx context.Context, remote *Remote, cfg Config) (*grpcChannel, error) {
	var creds credentials.TransportCredentials
	if remote.UseSSL {
		tlsCfg := cfg.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		creds = credentials.NewTLS(tlsCfg)
	} else {
		creds = insecure.NewCredentials()
	}

	userAgent := remote.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithUserAgent(userAgent),
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient("passthrough:///"+remote.Address(), opts...)
	if err != nil {
		return nil, err
	}

	if cfg.ConnectTimeout > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		if err := awaitReady(waitCtx, conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	callOpts := []grpc.CallOption{grpc.ForceCodec(codec{})}
	if cfg.Compression {
		callOpts = append(callOpts, grpc.UseCompressor(gzipName))
	}

	var headers []string
	if remote.Token != "" {
		headers = append(headers, MetaAuthorization, "Bearer "+remote.Token)
	}
	keys := make([]string, 0, len(remote.Headers))
	for k := range remote.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		headers = append(headers, k, remote.Headers[k])
	}

	return &grpcChannel{conn: conn, callOpts: callOpts, headers: headers}, nil
}

// awaitReady blocks until conn is ready or ctx is done.
func awaitReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if state == connectivity.Shutdown {
			return fmt.Errorf("channel shut down")
		}
		if !conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("channel not ready (last state %s): %w", state, ctx.Err())
		}
	}
}

func (c *grpcChannel) ExecutePlan(ctx context.Context, req *ExecutePlanRequest) (responseStream, error) {
	if len(c.headers) > 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, c.headers...)
	}
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.conn.NewStream(ctx, &executePlanDesc, ExecutePlanMethod, c.callOpts...)
	if err != nil {
		cancel()
		return nil, err
	}
	// io.EOF means the server already ended the call; RecvMsg reports why.
	if err := stream.SendMsg(req); err != nil && err != io.EOF {
		cancel()
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, err
	}
	return &grpcStream{stream: stream, cancel: cancel}, nil
}

func (c *grpcChannel) Close() error {
	return c.conn.Close()
}

type grpcStream struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
}

func (s *grpcStream) Recv() (*ExecutePlanResponse, error) {
	resp := &ExecutePlanResponse{}
	if err := s.stream.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *grpcStream) Close() {
	s.cancel()
}
