package monitor

import (
	"seqmon/pkg/types"
)

// Status projects the whole cache into the report served by the API and
// the CLI. Everything comes from memory; a disconnected session shows the
// last observed positions with the disconnect reflected in the connection
// block.
func (m *Monitor) Status() types.StatusResponse {
	conn := m.sessions.CurrentState()
	status := types.ConnectionStatus{
		Endpoint: m.sessions.Endpoint(),
		Phase:    string(conn.Phase),
		Reason:   conn.Reason,
		Attempt:  conn.Attempt,
	}
	if conn.Phase != types.Connected && !conn.Since.IsZero() {
		since := conn.Since
		status.Since = &since
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	positions := make([]types.PositionStatus, 0, len(m.order))
	for _, name := range m.order {
		d, ok := m.data[name]
		if !ok {
			continue
		}
		positions = append(positions, m.positionStatusLocked(d))
	}
	return types.StatusResponse{Connection: status, Positions: positions}
}

// PositionStatus reports a single position, or false when unknown.
func (m *Monitor) PositionStatus(name string) (types.PositionStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[name]
	if !ok {
		return types.PositionStatus{}, false
	}
	return m.positionStatusLocked(d), true
}

func (m *Monitor) positionStatusLocked(d *positionData) types.PositionStatus {
	ps := types.PositionStatus{
		Position:  d.position,
		RunState:  d.runState,
		RunID:     d.runInfo.RunID,
		LastError: d.lastErr,
		UpdatedAt: d.updatedAt,
	}
	if d.stats != nil {
		stats := *d.stats
		ps.Stats = &stats
	}
	if d.poreCounts != nil {
		counts := *d.poreCounts
		ps.PoreCounts = &counts
	}
	return ps
}
