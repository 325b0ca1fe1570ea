package monitor

import (
	"context"
	"time"

	"seqmon/internal/rpc"
	"seqmon/pkg/types"
)

// Run drives the refresh loop until ctx is cancelled. Each pass first gives
// the session manager a chance to reconnect, then refreshes every position.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := m.RefreshOnce(ctx); err != nil {
			m.log.Debug().Err(err).Msg("refresh pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RefreshOnce performs one full refresh pass. A failed position listing
// tears down the session and restarts the backoff; per-position failures
// are recorded on the position and never affect the session.
func (m *Monitor) RefreshOnce(ctx context.Context) error {
	start := time.Now()
	defer func() { refreshDuration.Observe(time.Since(start).Seconds()) }()

	wasConnected := m.sessions.Connected()
	if !m.sessions.TryReconnect(ctx) {
		connectedGauge.Set(0)
		return nil
	}
	if !wasConnected {
		reconnectsTotal.Inc()
	}
	connectedGauge.Set(1)

	s, err := m.sessions.Session()
	if err != nil {
		return nil
	}

	positions, err := s.ListPositions(ctx)
	if err != nil {
		refreshFailures.Inc()
		observeRPCFailure(err)
		connectedGauge.Set(0)
		m.sessions.MarkDisconnected(err.Error())
		return err
	}
	m.setPositions(positions)

	for _, pos := range positions {
		m.refreshPosition(ctx, s, pos)
	}
	refreshTotal.Inc()
	return nil
}

// refreshPosition updates one position's cache from a fresh sub-session.
// The run state is resolved before any stats read, so the purge-on-inactive
// transition always precedes new telemetry for the next run.
func (m *Monitor) refreshPosition(ctx context.Context, s rpc.Session, pos types.Position) {
	name := pos.Name

	ps, err := s.OpenPosition(ctx, pos)
	if err != nil {
		if rpc.IsNotFound(err) {
			// No control port: the position is not running its services.
			m.setRunState(name, types.RunIdle)
			m.setError(name, nil)
		} else {
			m.setError(name, err)
		}
		return
	}
	defer ps.Close()

	state, err := ps.RunState(ctx)
	if err != nil {
		observeRPCFailure(err)
		m.setError(name, err)
		return
	}
	m.setRunState(name, state)
	if !state.IsActive() {
		m.setError(name, nil)
		return
	}

	info, stats, err := ps.RunInfo(ctx)
	if err != nil {
		observeRPCFailure(err)
		m.setError(name, err)
		return
	}
	if info.RunID == "" {
		m.setError(name, nil)
		return
	}
	m.setRunInfo(name, info)

	var firstErr error
	record := func(err error) {
		if err == nil {
			return
		}
		observeRPCFailure(err)
		if firstErr == nil {
			firstErr = err
		}
	}

	points, yerr := ps.YieldHistory(ctx, info.RunID)
	record(yerr)
	m.update(name, func(d *positionData) {
		if yerr == nil && len(points) > 0 {
			// Each read carries the full history: the newest sequence
			// replaces the cache outright, no merging.
			d.yield = ReduceYield(points)
		}
		if now := time.Now(); now.Sub(d.throughputAt) >= throughputInterval {
			stats.ThroughputBPS = BasesPerSecond(d.yield)
			stats.ThroughputGbph = stats.ThroughputBPS * 3600 / 1e9
			d.throughputAt = now
		} else if d.stats != nil {
			stats.ThroughputBPS = d.stats.ThroughputBPS
			stats.ThroughputGbph = d.stats.ThroughputGbph
		}
	})

	if q, ok, qerr := ps.MeanQuality(ctx, info.RunID); qerr != nil {
		record(qerr)
	} else if ok {
		stats.MeanQuality = q
	}
	m.update(name, func(d *positionData) { d.stats = &stats })

	if raw, derr := ps.DutyTime(ctx, info.RunID); derr != nil {
		record(derr)
	} else {
		snap := ReduceDutyTime(raw)
		m.update(name, func(d *positionData) { d.dutyTime = &snap })
	}

	opts := m.histogramOptions(name)
	if view, herr := ps.Histogram(ctx, info.RunID, opts); herr != nil {
		record(herr)
	} else {
		m.update(name, func(d *positionData) {
			d.histogram = &view
			d.histOpts = opts
			d.histOptsSet = true
		})
	}

	// The layout is fixed per flow cell: fetched once per run.
	topo, haveTopo := m.Topology(name)
	if !haveTopo {
		if records, lerr := ps.Layout(ctx); lerr != nil {
			record(lerr)
		} else {
			topo = NormalizeLayout(records)
			haveTopo = true
			m.update(name, func(d *positionData) { d.topology = &topo })
		}
	}

	if haveTopo && topo.ChannelCount > 0 {
		if states, serr := ps.ChannelStates(ctx, topo.ChannelCount); serr != nil {
			record(serr)
		} else {
			snap := types.ChannelStatesSnapshot{
				ChannelCount: topo.ChannelCount,
				States:       states,
				StateCounts:  StateCountsFrom(states),
				UpdatedAt:    time.Now(),
			}
			counts := PoreCountsFrom(states)
			m.update(name, func(d *positionData) {
				d.channels = &snap
				d.poreCounts = &counts
			})
		}
	}

	m.setError(name, firstErr)
}

// histogramOptions returns the options the last histogram was requested
// with, or the default of excluding outliers.
func (m *Monitor) histogramOptions(name string) rpc.HistogramOptions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.data[name]; ok && d.histOptsSet {
		return d.histOpts
	}
	return rpc.HistogramOptions{ExcludeOutliers: true}
}
