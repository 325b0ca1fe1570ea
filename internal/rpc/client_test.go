package rpc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"seqmon/pkg/types"
)

func newTestClient(conn *fakeConn) *Client {
	return &Client{
		endpoint: "localhost:9501",
		host:     "localhost",
		conn:     conn,
		timeouts: DefaultTimeouts(),
		log:      zerolog.Nop(),
	}
}

func TestPositionFromWire(t *testing.T) {
	pos := positionFromWire(wirePosition{
		Name:       "X1",
		ParentName: "PC24B100",
		DeviceType: "p2",
		State:      wirePositionRunning,
		RPCPorts:   &wireRPCPorts{Secure: 8001},
		Simulated:  true,
	})
	want := types.Position{
		ID:          "X1",
		Name:        "X1",
		DeviceID:    "PC24B100",
		DeviceType:  "p2",
		State:       types.PositionRunning,
		ControlPort: 8001,
		Simulated:   true,
	}
	if pos != want {
		t.Fatalf("got %+v, want %+v", pos, want)
	}
}

func TestPositionFromWireStandalone(t *testing.T) {
	// Standalone positions have no parent: the position name doubles as
	// the device id, and a missing port block means no control services.
	pos := positionFromWire(wirePosition{Name: "MN12345", State: wirePositionIdle})
	if pos.DeviceID != "MN12345" {
		t.Fatalf("DeviceID = %q, want fallback to name", pos.DeviceID)
	}
	if pos.ControlPort != 0 {
		t.Fatalf("ControlPort = %d, want 0", pos.ControlPort)
	}
	if pos.State != types.PositionIdle {
		t.Fatalf("State = %s, want idle", pos.State)
	}
}

func TestPositionFromWireErrorStates(t *testing.T) {
	for _, wire := range []int{wirePositionHardwareErr, wirePositionSoftwareErr} {
		pos := positionFromWire(wirePosition{Name: "X1", State: wire})
		if pos.State != types.PositionError {
			t.Errorf("wire state %d: got %s, want error", wire, pos.State)
		}
	}
}

func TestListPositions(t *testing.T) {
	conn := &fakeConn{streams: map[string]func(req, reply any) error{
		methodListPositions: func(_, reply any) error {
			*reply.(*listPositionsResponse) = listPositionsResponse{
				Positions: []wirePosition{
					{Name: "X1", ParentName: "PC24B100", State: wirePositionRunning, RPCPorts: &wireRPCPorts{Secure: 8001}},
					{Name: "X2", ParentName: "PC24B100", State: wirePositionIdle},
				},
			}
			return nil
		},
	}}
	positions, err := newTestClient(conn).ListPositions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 2 {
		t.Fatalf("got %d positions, want 2", len(positions))
	}
	if positions[0].Name != "X1" || positions[1].Name != "X2" {
		t.Fatalf("unexpected positions: %+v", positions)
	}
}

func TestDevicesDeduplicates(t *testing.T) {
	conn := &fakeConn{streams: map[string]func(req, reply any) error{
		methodListPositions: func(_, reply any) error {
			*reply.(*listPositionsResponse) = listPositionsResponse{
				Positions: []wirePosition{
					{Name: "X1", ParentName: "PC24B100", State: wirePositionRunning},
					{Name: "X2", ParentName: "PC24B100", State: wirePositionIdle},
					{Name: "MN12345", State: wirePositionIdle},
				},
			}
			return nil
		},
	}}
	devices, err := newTestClient(conn).Devices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	if devices[0].ID != "MN12345" || devices[1].ID != "PC24B100" {
		t.Fatalf("unexpected device order: %+v", devices)
	}
}

func TestOpenPositionRequiresControlPort(t *testing.T) {
	_, err := newTestClient(&fakeConn{}).OpenPosition(context.Background(), types.Position{Name: "X2"})
	if !IsNotFound(err) {
		t.Fatalf("expected not-found for portless position, got %v", err)
	}
}

// outgoingCredential pulls the credential metadata values out of ctx.
func outgoingCredential(ctx context.Context) []string {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		return nil
	}
	return md.Get(credentialMetadataKey)
}

func TestCredentialInterceptorsAttachToken(t *testing.T) {
	var unaryMD, streamMD []string

	unary := credentialUnaryInterceptor("secret-token")
	inv := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		unaryMD = outgoingCredential(ctx)
		return nil
	}
	if err := unary(context.Background(), methodCurrentStatus, nil, nil, nil, inv); err != nil {
		t.Fatal(err)
	}
	if len(unaryMD) != 1 || unaryMD[0] != "secret-token" {
		t.Fatalf("unary credential metadata = %v", unaryMD)
	}

	stream := credentialStreamInterceptor("secret-token")
	streamer := func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		streamMD = outgoingCredential(ctx)
		return &fakeStream{ctx: ctx}, nil
	}
	desc := &grpc.StreamDesc{StreamName: "StreamDutyTime", ServerStreams: true}
	if _, err := stream(context.Background(), desc, nil, methodStreamDutyTime, streamer); err != nil {
		t.Fatal(err)
	}
	if len(streamMD) != 1 || streamMD[0] != "secret-token" {
		t.Fatalf("stream credential metadata = %v", streamMD)
	}
}

func TestCredentialInterceptorsAnonymous(t *testing.T) {
	// Anonymous mode must not send an empty credential header.
	unary := credentialUnaryInterceptor("")
	inv := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		if md := outgoingCredential(ctx); len(md) != 0 {
			t.Fatalf("unary call leaked credential metadata: %v", md)
		}
		return nil
	}
	if err := unary(context.Background(), methodCurrentStatus, nil, nil, nil, inv); err != nil {
		t.Fatal(err)
	}

	stream := credentialStreamInterceptor("")
	streamer := func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		if md := outgoingCredential(ctx); len(md) != 0 {
			t.Fatalf("stream call leaked credential metadata: %v", md)
		}
		return &fakeStream{ctx: ctx}, nil
	}
	desc := &grpc.StreamDesc{StreamName: "StreamDutyTime", ServerStreams: true}
	if _, err := stream(context.Background(), desc, nil, methodStreamDutyTime, streamer); err != nil {
		t.Fatal(err)
	}
}

func credentialConn(path string) *fakeConn {
	return &fakeConn{unary: map[string]func(args, reply any) error{
		methodCredentialPath: func(_, reply any) error {
			*reply.(*credentialPathResponse) = credentialPathResponse{Path: path}
			return nil
		},
	}}
}

func TestFetchCredentialAnonymousModes(t *testing.T) {
	// Empty path and missing file both mean anonymous, not failure.
	for name, path := range map[string]string{
		"empty path":   "",
		"missing file": filepath.Join(t.TempDir(), "absent.json"),
	} {
		c := newTestClient(credentialConn(path))
		token, err := c.fetchCredential(context.Background())
		if err != nil {
			t.Errorf("%s: %v", name, err)
		}
		if token != "" {
			t.Errorf("%s: token = %q, want anonymous", name, token)
		}
	}
}

func TestFetchCredentialReadsToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.json")
	if err := os.WriteFile(path, []byte(`{"token":"secret-token"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	c := newTestClient(credentialConn(path))
	token, err := c.fetchCredential(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if token != "secret-token" {
		t.Fatalf("token = %q", token)
	}
}

func TestFetchCredentialMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":      "garbage",
		"missing field": `{"user":"x"}`,
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), "credential.json")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		c := newTestClient(credentialConn(path))
		if _, err := c.fetchCredential(context.Background()); !IsAuth(err) {
			t.Errorf("%s: expected auth error, got %v", name, err)
		}
	}
}
