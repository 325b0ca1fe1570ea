package rpc

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ConnectionError signals a failure to establish or keep a connection to an
// endpoint. Always retriable.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to connect to %s: %v", e.Endpoint, e.Err)
	}
	return "failed to connect to " + e.Endpoint
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RPCError wraps a failed remote call with the operation name and the
// transport status code.
type RPCError struct {
	Op      string
	Code    codes.Code
	Message string
}

func (e *RPCError) Error() string { return e.Op + ": " + e.Message }

// ProtocolError signals a malformed or unexpected response shape. Not
// retriable: it indicates a server/client mismatch a retry cannot fix.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Message }

// NotFoundError signals a missing resource, such as a position with no
// control port.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found: " + e.ID }

// TimeoutError signals a bounded wait that expired. Retriable; the next
// tick re-issues the read.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string { return "operation timed out: " + e.Op }

// ErrDisconnected is returned when an operation is attempted without a
// current session.
var ErrDisconnected = errors.New("connection lost")

// AuthError signals a credential that could not be read or parsed.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return "authentication error: " + e.Message }

// Retriable reports whether err might be recoverable by retrying the
// connection. Configuration-style failures (not found, auth, malformed
// responses) are not, the retry loop cannot fix them.
func Retriable(err error) bool {
	var rpcErr *RPCError
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrDisconnected):
		return true
	case errors.As(err, &rpcErr):
		switch rpcErr.Code {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
			return true
		}
		return false
	}
	var (
		connErr    *ConnectionError
		timeoutErr *TimeoutError
	)
	return errors.As(err, &connErr) || errors.As(err, &timeoutErr)
}

// IsNotFound reports whether err indicates a missing resource, either a
// typed NotFoundError or a remote NotFound status.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == codes.NotFound
}

// IsAuth reports whether err is a credential failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// rpcError converts a transport error for op into the client taxonomy.
// Context deadline expiry becomes a TimeoutError so bounded stream reads
// classify consistently whether the deadline fired locally or remotely.
func rpcError(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return &RPCError{Op: op, Code: codes.Unknown, Message: err.Error()}
	}
	if st.Code() == codes.DeadlineExceeded {
		return &TimeoutError{Op: op}
	}
	return &RPCError{Op: op, Code: st.Code(), Message: st.Message()}
}
