package rpc

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestRetriable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"disconnected", ErrDisconnected, true},
		{"connection", &ConnectionError{Endpoint: "localhost:9501"}, true},
		{"timeout", &TimeoutError{Op: "stream_duty_time"}, true},
		{"rpc unavailable", &RPCError{Op: "x", Code: codes.Unavailable}, true},
		{"rpc deadline", &RPCError{Op: "x", Code: codes.DeadlineExceeded}, true},
		{"rpc aborted", &RPCError{Op: "x", Code: codes.Aborted}, true},
		{"rpc not found", &RPCError{Op: "x", Code: codes.NotFound}, false},
		{"rpc invalid argument", &RPCError{Op: "x", Code: codes.InvalidArgument}, false},
		{"not found", &NotFoundError{Resource: "control port", ID: "X1"}, false},
		{"auth", &AuthError{Message: "bad token"}, false},
		{"protocol", &ProtocolError{Message: "truncated"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := Retriable(tc.err); got != tc.want {
			t.Errorf("%s: Retriable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(&NotFoundError{Resource: "position", ID: "X9"}) {
		t.Fatal("typed NotFoundError not recognized")
	}
	if !IsNotFound(&RPCError{Op: "x", Code: codes.NotFound}) {
		t.Fatal("remote NotFound status not recognized")
	}
	if IsNotFound(&RPCError{Op: "x", Code: codes.Internal}) {
		t.Fatal("Internal should not be not-found")
	}
}

func TestRPCErrorConversion(t *testing.T) {
	err := rpcError("get_run_info", status.Error(codes.Unavailable, "server going away"))
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %T", err)
	}
	if rpcErr.Code != codes.Unavailable || rpcErr.Op != "get_run_info" {
		t.Fatalf("unexpected conversion: %+v", rpcErr)
	}
}

func TestRPCErrorDeadlineBecomesTimeout(t *testing.T) {
	err := rpcError("stream_duty_time", status.Error(codes.DeadlineExceeded, "deadline exceeded"))
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TimeoutError, got %T", err)
	}
	if !Retriable(err) {
		t.Fatal("timeout should be retriable")
	}
}
