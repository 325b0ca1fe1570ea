package rpc

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	"seqmon/pkg/types"
)

// Timeouts bound the three kinds of remote waits: establishing a
// connection, a unary request, and a single streaming read.
type Timeouts struct {
	Connect    time.Duration
	Request    time.Duration
	StreamRead time.Duration
}

// DefaultTimeouts returns the documented defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:    5 * time.Second,
		Request:    30 * time.Second,
		StreamRead: 5 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Connect <= 0 {
		t.Connect = d.Connect
	}
	if t.Request <= 0 {
		t.Request = d.Request
	}
	if t.StreamRead <= 0 {
		t.StreamRead = d.StreamRead
	}
	return t
}

// invoker is the slice of grpc.ClientConn the service wrappers use.
// Tests substitute a fake.
type invoker interface {
	Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
	NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error)
}

// Client owns the single live connection to the discovery service and
// hands out per-position sub-sessions sharing its credential.
type Client struct {
	endpoint   string
	host       string
	conn       invoker
	closeConn  func() error
	credential string
	timeouts   Timeouts
	log        zerolog.Logger
}

// Connect performs one connection attempt against the discovery endpoint:
// loopback check, trust resolution, TLS dial, then the credential bootstrap
// RPC which doubles as the reachability probe.
func Connect(ctx context.Context, host string, port int, timeouts Timeouts, log zerolog.Logger) (*Client, error) {
	endpoint := net.JoinHostPort(host, strconv.Itoa(port))
	if !IsLoopback(host) {
		return nil, &ConnectionError{
			Endpoint: endpoint,
			Err:      errors.New("remote hosts are not supported; use localhost"),
		}
	}

	timeouts = timeouts.withDefaults()
	log.Debug().Str("endpoint", endpoint).Msg("connecting to discovery service")

	conn, err := dialSecure(endpoint)
	if err != nil {
		return nil, err
	}

	c := &Client{
		endpoint:  endpoint,
		host:      host,
		conn:      conn,
		closeConn: conn.Close,
		timeouts:  timeouts,
		log:       log,
	}

	cctx, cancel := context.WithTimeout(ctx, timeouts.Connect)
	defer cancel()
	credential, err := c.fetchCredential(cctx)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.credential = credential

	log.Info().Str("endpoint", endpoint).Bool("anonymous", credential == "").
		Msg("connected to discovery service")
	return c, nil
}

// ConnectWithRetry is the blocking retry loop around Connect. Retriable
// failures back off per policy; non-retriable failures and exhausted
// attempts return the last error.
func ConnectWithRetry(ctx context.Context, host string, port int, timeouts Timeouts, policy ReconnectPolicy, log zerolog.Logger) (*Client, error) {
	attempt := 0
	for {
		c, err := Connect(ctx, host, port, timeouts, log)
		if err == nil {
			return c, nil
		}
		if !Retriable(err) {
			return nil, err
		}
		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			log.Error().Int("attempt", attempt).Int("max_attempts", policy.MaxAttempts).
				Msg("max connection attempts reached")
			return nil, err
		}
		delay := policy.DelayForAttempt(attempt)
		log.Warn().Int("attempt", attempt).Dur("delay", delay).Err(err).
			Msg("connection failed, retrying")
		select {
		case <-ctx.Done():
			return nil, &ConnectionError{Endpoint: net.JoinHostPort(host, strconv.Itoa(port)), Err: ctx.Err()}
		case <-time.After(delay):
		}
		attempt++
	}
}

// dialSecure opens a TLS channel to a loopback endpoint. The server's
// certificate names a local peer, so ServerName is pinned to localhost.
func dialSecure(endpoint string, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	pool, err := loadTrustAnchor(endpoint)
	if err != nil {
		return nil, err
	}
	creds := credentials.NewTLS(&tls.Config{RootCAs: pool, ServerName: "localhost"})
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	}, extra...)
	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}
	return conn, nil
}

// fetchCredential asks the discovery service where the local credential
// lives and loads it. An empty path or a missing file means anonymous
// mode, not an error; an unreadable or malformed file is an Auth failure.
func (c *Client) fetchCredential(ctx context.Context) (string, error) {
	var resp credentialPathResponse
	if err := c.conn.Invoke(ctx, methodCredentialPath, &credentialPathRequest{}, &resp); err != nil {
		return "", rpcError("get_local_credential_path", err)
	}
	if resp.Path == "" {
		c.log.Debug().Msg("no credential path returned, using anonymous mode")
		return "", nil
	}
	raw, err := os.ReadFile(resp.Path)
	if err != nil {
		if os.IsNotExist(err) {
			c.log.Debug().Str("path", resp.Path).Msg("credential file does not exist")
			return "", nil
		}
		return "", &AuthError{Message: "failed to read credential file " + resp.Path + ": " + err.Error()}
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", &AuthError{Message: "failed to parse credential file: " + err.Error()}
	}
	if payload.Token == "" {
		return "", &AuthError{Message: "credential file missing 'token' field"}
	}
	return payload.Token, nil
}

// Endpoint returns the discovery endpoint as host:port.
func (c *Client) Endpoint() string { return c.endpoint }

// Close releases the discovery connection.
func (c *Client) Close() error {
	if c.closeConn != nil {
		return c.closeConn()
	}
	return nil
}

// ListPositions drains the discovery service's position stream and maps it
// into the domain model.
func (c *Client) ListPositions(ctx context.Context) ([]types.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Request)
	defer cancel()

	desc := &grpc.StreamDesc{StreamName: "ListPositions", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, methodListPositions)
	if err != nil {
		return nil, rpcError("list_positions", err)
	}
	if err := stream.SendMsg(&listPositionsRequest{}); err != nil {
		return nil, rpcError("list_positions", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, rpcError("list_positions", err)
	}

	var positions []types.Position
	for {
		var resp listPositionsResponse
		err := stream.RecvMsg(&resp)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, rpcError("list_positions", err)
		}
		for _, w := range resp.Positions {
			positions = append(positions, positionFromWire(w))
		}
	}
	c.log.Debug().Int("count", len(positions)).Msg("listed positions")
	return positions, nil
}

// Devices de-duplicates positions on their parent device id.
func (c *Client) Devices(ctx context.Context) ([]types.Device, error) {
	positions, err := c.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]types.Device)
	for _, p := range positions {
		if _, ok := seen[p.DeviceID]; ok {
			continue
		}
		state := types.DeviceReady
		if p.State == types.PositionError {
			state = types.DeviceError
		}
		seen[p.DeviceID] = types.Device{ID: p.DeviceID, Name: p.DeviceID, State: state}
	}
	devices := make([]types.Device, 0, len(seen))
	for _, d := range seen {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

// OpenPosition opens the sub-session for one position's control-port
// services. Callers close it after the current refresh use; a position's
// port and liveness can change between ticks, so sub-sessions are never
// cached.
func (c *Client) OpenPosition(ctx context.Context, pos types.Position) (PositionSession, error) {
	if pos.ControlPort == 0 {
		return nil, &NotFoundError{Resource: "control port", ID: pos.Name}
	}
	endpoint := net.JoinHostPort(c.host, strconv.Itoa(pos.ControlPort))
	conn, err := dialSecure(endpoint,
		grpc.WithUnaryInterceptor(credentialUnaryInterceptor(c.credential)),
		grpc.WithStreamInterceptor(credentialStreamInterceptor(c.credential)),
	)
	if err != nil {
		return nil, err
	}
	return &PositionClient{
		position:  pos,
		conn:      conn,
		closeConn: conn.Close,
		timeouts:  c.timeouts,
		log:       c.log.With().Str("position", pos.Name).Logger(),
	}, nil
}

func positionFromWire(w wirePosition) types.Position {
	var state types.PositionState
	switch w.State {
	case wirePositionInitialising:
		state = types.PositionInitializing
	case wirePositionRunning:
		state = types.PositionRunning
	case wirePositionHardwareErr, wirePositionSoftwareErr:
		state = types.PositionError
	default:
		state = types.PositionIdle
	}
	deviceID := w.ParentName
	if deviceID == "" {
		deviceID = w.Name
	}
	port := 0
	if w.RPCPorts != nil {
		port = w.RPCPorts.Secure
	}
	return types.Position{
		ID:          w.Name,
		Name:        w.Name,
		DeviceID:    deviceID,
		DeviceType:  w.DeviceType,
		State:       state,
		ControlPort: port,
		Simulated:   w.Simulated,
	}
}

// credentialUnaryInterceptor attaches the bearer credential, if any, to
// every unary call.
func credentialUnaryInterceptor(token string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, inv grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if token != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, credentialMetadataKey, token)
		}
		return inv(ctx, method, req, reply, cc, opts...)
	}
}

// credentialStreamInterceptor is the streaming counterpart.
func credentialStreamInterceptor(token string) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		if token != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, credentialMetadataKey, token)
		}
		return streamer(ctx, desc, cc, method, opts...)
	}
}
