package rpc

import (
	"context"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// fakeConn satisfies the invoker seam. Unary handlers fill the reply in
// place; stream handlers answer the first RecvMsg, after which the stream
// reports EOF.
type fakeConn struct {
	mu      sync.Mutex
	calls   []string
	unary   map[string]func(args, reply any) error
	streams map[string]func(req, reply any) error
}

func (f *fakeConn) record(method string) {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.mu.Unlock()
}

func (f *fakeConn) Invoke(_ context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	f.record(method)
	h, ok := f.unary[method]
	if !ok {
		return status.Error(codes.Unimplemented, "no handler for "+method)
	}
	return h(args, reply)
}

func (f *fakeConn) NewStream(ctx context.Context, _ *grpc.StreamDesc, method string, _ ...grpc.CallOption) (grpc.ClientStream, error) {
	f.record(method)
	h, ok := f.streams[method]
	if !ok {
		return nil, status.Error(codes.Unimplemented, "no handler for "+method)
	}
	return &fakeStream{ctx: ctx, handler: h}, nil
}

type fakeStream struct {
	ctx     context.Context
	handler func(req, reply any) error
	req     any
	served  bool
}

func (s *fakeStream) Header() (metadata.MD, error) { return nil, nil }
func (s *fakeStream) Trailer() metadata.MD         { return nil }
func (s *fakeStream) CloseSend() error             { return nil }
func (s *fakeStream) Context() context.Context     { return s.ctx }

func (s *fakeStream) SendMsg(m any) error {
	s.req = m
	return nil
}

func (s *fakeStream) RecvMsg(m any) error {
	if s.served {
		return io.EOF
	}
	s.served = true
	return s.handler(s.req, m)
}
