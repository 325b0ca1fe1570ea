package monitor

import (
	"context"

	"seqmon/internal/rpc"
	"seqmon/pkg/types"
)

// Pause pauses the protocol run on the named position.
func (m *Monitor) Pause(ctx context.Context, name string) error {
	return m.withPosition(ctx, name, func(ps rpc.PositionSession) error {
		return ps.Pause(ctx)
	})
}

// Resume resumes a paused protocol run on the named position.
func (m *Monitor) Resume(ctx context.Context, name string) error {
	return m.withPosition(ctx, name, func(ps rpc.PositionSession) error {
		return ps.Resume(ctx)
	})
}

// StopAcquisition stops the current acquisition on the named position.
func (m *Monitor) StopAcquisition(ctx context.Context, name string) error {
	return m.withPosition(ctx, name, func(ps rpc.PositionSession) error {
		return ps.StopAcquisition(ctx)
	})
}

// StopProtocol stops the whole protocol run on the named position.
func (m *Monitor) StopProtocol(ctx context.Context, name string) error {
	return m.withPosition(ctx, name, func(ps rpc.PositionSession) error {
		return ps.StopProtocol(ctx)
	})
}

// withPosition runs fn against a fresh sub-session for the named position.
// Action failures are returned to the caller verbatim; they never touch the
// session state or the cached telemetry.
func (m *Monitor) withPosition(ctx context.Context, name string, fn func(rpc.PositionSession) error) error {
	var pos types.Position
	found := m.snapshot(name, func(d *positionData) { pos = d.position })
	if !found {
		return &rpc.NotFoundError{Resource: "position", ID: name}
	}

	s, err := m.sessions.Session()
	if err != nil {
		return err
	}
	ps, err := s.OpenPosition(ctx, pos)
	if err != nil {
		return err
	}
	defer ps.Close()
	return fn(ps)
}
