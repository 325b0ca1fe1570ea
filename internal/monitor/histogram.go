package monitor

import (
	"context"

	"seqmon/internal/rpc"
	"seqmon/pkg/types"
)

// Histogram serves the read-length histogram for a position. A nil opts
// means "whatever is cached". Requesting different options than the cached
// view forces a live fetch, because outlier exclusion and ranges are server
// request parameters: the cached buckets cannot be re-filtered locally.
func (m *Monitor) Histogram(ctx context.Context, name string, opts *rpc.HistogramOptions) (types.HistogramView, error) {
	m.mu.RLock()
	d, ok := m.data[name]
	if !ok {
		m.mu.RUnlock()
		return types.HistogramView{}, &rpc.NotFoundError{Resource: "position", ID: name}
	}
	var cached *types.HistogramView
	if d.histogram != nil {
		view := *d.histogram
		cached = &view
	}
	cachedOpts := d.histOpts
	hasOpts := d.histOptsSet
	pos := d.position
	active := d.runState.IsActive()
	runID := d.runInfo.RunID
	m.mu.RUnlock()

	if opts == nil {
		if cached != nil {
			return *cached, nil
		}
		opts = &rpc.HistogramOptions{ExcludeOutliers: true}
	}
	if cached != nil && hasOpts && sameHistogramOptions(cachedOpts, *opts) {
		return *cached, nil
	}
	if !active || runID == "" {
		if cached != nil {
			return *cached, nil
		}
		return types.HistogramView{}, &rpc.NotFoundError{Resource: "histogram", ID: name}
	}

	s, err := m.sessions.Session()
	if err != nil {
		return types.HistogramView{}, err
	}
	ps, err := s.OpenPosition(ctx, pos)
	if err != nil {
		return types.HistogramView{}, err
	}
	defer ps.Close()

	view, err := ps.Histogram(ctx, runID, *opts)
	if err != nil {
		return types.HistogramView{}, err
	}
	requested := *opts
	m.update(name, func(d *positionData) {
		d.histogram = &view
		d.histOpts = requested
		d.histOptsSet = true
	})
	return view, nil
}

func sameHistogramOptions(a, b rpc.HistogramOptions) bool {
	if a.ExcludeOutliers != b.ExcludeOutliers {
		return false
	}
	if (a.Range == nil) != (b.Range == nil) {
		return false
	}
	return a.Range == nil || *a.Range == *b.Range
}
