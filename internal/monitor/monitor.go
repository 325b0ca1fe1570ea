package monitor

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"seqmon/internal/rpc"
	"seqmon/pkg/types"
)

// Config tunes the refresh loop.
type Config struct {
	// Interval between refresh passes.
	Interval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{Interval: time.Second}
}

// positionData is the per-position cache. Telemetry fields are per-run:
// they are purged together when the run state leaves the active set or the
// run id changes.
type positionData struct {
	position types.Position
	runState types.RunState
	runInfo  types.RunInfo
	lastErr  string

	stats       *types.StatsSnapshot
	yield       []types.YieldPoint
	histogram   *types.HistogramView
	histOpts    rpc.HistogramOptions
	histOptsSet bool
	dutyTime    *types.DutyTimeSnapshot
	channels    *types.ChannelStatesSnapshot
	poreCounts  *types.PoreCounts
	topology    *types.ChannelTopology

	throughputAt time.Time
	updatedAt    time.Time
}

// Monitor holds the latest observed state of every position and drives the
// periodic refresh. Reads are served from cache and never block on the
// network; stale data stays visible across disconnects.
type Monitor struct {
	sessions *rpc.SessionManager
	cfg      Config
	log      zerolog.Logger

	mu    sync.RWMutex
	order []string
	data  map[string]*positionData
}

// New builds a monitor over the given session manager. Run starts the
// refresh loop; until then all caches are empty.
func New(sessions *rpc.SessionManager, cfg Config, log zerolog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Monitor{
		sessions: sessions,
		cfg:      cfg,
		log:      log,
		data:     make(map[string]*positionData),
	}
}

// setPositions reconciles the discovery listing with the cache. Positions
// that vanish from the listing are dropped entirely.
func (m *Monitor) setPositions(positions []types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := make(map[string]struct{}, len(positions))
	m.order = m.order[:0]
	for _, p := range positions {
		current[p.Name] = struct{}{}
		m.order = append(m.order, p.Name)
		d, ok := m.data[p.Name]
		if !ok {
			d = &positionData{runState: types.RunIdle}
			m.data[p.Name] = d
		}
		d.position = p
	}
	for name := range m.data {
		if _, ok := current[name]; !ok {
			delete(m.data, name)
		}
	}
}

// setRunState records a new run state for a position. Leaving the active
// set purges every per-run cache in the same step, so no reader can observe
// finished-run telemetry attributed to a later run.
func (m *Monitor) setRunState(name string, state types.RunState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[name]
	if !ok {
		return
	}
	wasActive := d.runState.IsActive()
	d.runState = state
	d.updatedAt = time.Now()
	if wasActive && !state.IsActive() {
		m.purgeRunLocked(d)
	}
}

// setRunInfo installs the run identity, purging per-run caches if the run
// id changed under an uninterrupted active state.
func (m *Monitor) setRunInfo(name string, info types.RunInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[name]
	if !ok {
		return
	}
	if d.runInfo.RunID != "" && d.runInfo.RunID != info.RunID {
		m.purgeRunLocked(d)
	}
	d.runInfo = info
}

func (m *Monitor) purgeRunLocked(d *positionData) {
	d.runInfo = types.RunInfo{}
	d.stats = nil
	d.yield = nil
	d.histogram = nil
	d.histOpts = rpc.HistogramOptions{}
	d.histOptsSet = false
	d.dutyTime = nil
	d.channels = nil
	d.poreCounts = nil
	d.topology = nil
	d.throughputAt = time.Time{}
}

func (m *Monitor) setError(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.data[name]; ok {
		if err == nil {
			d.lastErr = ""
		} else {
			d.lastErr = err.Error()
		}
		d.updatedAt = time.Now()
	}
}

// update runs fn against a position's cache entry under the write lock.
func (m *Monitor) update(name string, fn func(d *positionData)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.data[name]; ok {
		fn(d)
		d.updatedAt = time.Now()
	}
}

// snapshot runs fn against a position's cache entry under the read lock.
func (m *Monitor) snapshot(name string, fn func(d *positionData)) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[name]
	if !ok {
		return false
	}
	fn(d)
	return true
}

// Positions returns the cached position listing in discovery order.
func (m *Monitor) Positions() []types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Position, 0, len(m.order))
	for _, name := range m.order {
		if d, ok := m.data[name]; ok {
			out = append(out, d.position)
		}
	}
	return out
}

// Yield returns the reduced yield history for a position, or false when
// the position is unknown or has no cached yield.
func (m *Monitor) Yield(name string) ([]types.YieldPoint, bool) {
	var points []types.YieldPoint
	ok := m.snapshot(name, func(d *positionData) {
		points = append(points, d.yield...)
	})
	return points, ok && points != nil
}

// DutyTime returns the cached duty-time reduction.
func (m *Monitor) DutyTime(name string) (types.DutyTimeSnapshot, bool) {
	var snap *types.DutyTimeSnapshot
	m.snapshot(name, func(d *positionData) { snap = d.dutyTime })
	if snap == nil {
		return types.DutyTimeSnapshot{}, false
	}
	return *snap, true
}

// ChannelStates returns the cached raw channel-state snapshot.
func (m *Monitor) ChannelStates(name string) (types.ChannelStatesSnapshot, bool) {
	var snap *types.ChannelStatesSnapshot
	m.snapshot(name, func(d *positionData) { snap = d.channels })
	if snap == nil {
		return types.ChannelStatesSnapshot{}, false
	}
	return *snap, true
}

// Topology returns the cached compacted channel grid.
func (m *Monitor) Topology(name string) (types.ChannelTopology, bool) {
	var topo *types.ChannelTopology
	m.snapshot(name, func(d *positionData) { topo = d.topology })
	if topo == nil {
		return types.ChannelTopology{}, false
	}
	return *topo, true
}

// ConnectionState exposes the session manager's state for reporting.
func (m *Monitor) ConnectionState() types.ConnectionState {
	return m.sessions.CurrentState()
}

// Endpoint returns the discovery endpoint being monitored.
func (m *Monitor) Endpoint() string {
	return m.sessions.Endpoint()
}
