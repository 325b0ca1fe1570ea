package monitor

import (
	"sort"
	"strings"
	"time"

	"seqmon/internal/rpc"
	"seqmon/pkg/types"
)

// Throughput is recomputed at most once per this interval; in between, the
// previous figure is kept to avoid jitter from uneven reporting intervals.
const throughputInterval = 5 * time.Second

// ReduceYield sorts points by their timestamp and drops duplicate
// timestamps, keeping the last occurrence. The result is strictly
// increasing in Seconds.
func ReduceYield(points []types.YieldPoint) []types.YieldPoint {
	if len(points) == 0 {
		return nil
	}
	sorted := make([]types.YieldPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seconds < sorted[j].Seconds })

	out := sorted[:0]
	for _, p := range sorted {
		if n := len(out); n > 0 && out[n-1].Seconds == p.Seconds {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

// BasesPerSecond derives instantaneous throughput from the last two yield
// points. The divisor is floored at one second so adjacent duplicate-ish
// timestamps cannot blow the figure up.
func BasesPerSecond(points []types.YieldPoint) float64 {
	if len(points) < 2 {
		return 0
	}
	last := points[len(points)-1]
	prev := points[len(points)-2]
	dt := last.Seconds - prev.Seconds
	if dt < 1 {
		dt = 1
	}
	if last.Bases < prev.Bases {
		return 0
	}
	return float64(last.Bases-prev.Bases) / float64(dt)
}

// classifyLabel maps a raw server channel-state label onto the canonical
// duty-time states. Matching is case-insensitive substring, first hit wins.
func classifyLabel(label string) types.ChannelState {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "strand"), strings.Contains(l, "sequencing"):
		return types.StateStrand
	case strings.Contains(l, "pore"), strings.Contains(l, "single_pore"):
		return types.StatePore
	case strings.Contains(l, "adapter"):
		return types.StateAdapter
	case strings.Contains(l, "unavailable"), strings.Contains(l, "inactive"),
		strings.Contains(l, "saturated"), strings.Contains(l, "zero"),
		strings.Contains(l, "multiple"):
		return types.StateUnavailable
	case strings.Contains(l, "unblock"):
		return types.StateUnblock
	default:
		return types.StateOther
	}
}

// ReduceDutyTime collapses one raw duty-time read into per-canonical-state
// totals across all buckets. Label variants that classify to the same
// canonical state accumulate together.
func ReduceDutyTime(raw rpc.DutyTimeRaw) types.DutyTimeSnapshot {
	snap := types.DutyTimeSnapshot{
		StateTimes:    make(map[types.ChannelState]uint64),
		PoreOccupancy: raw.PoreOccupancy,
		UpdatedAt:     time.Now(),
	}
	if n := len(raw.BucketRanges); n > 0 {
		snap.RangeStart = raw.BucketRanges[0].Start
		snap.RangeEnd = raw.BucketRanges[n-1].End
	}
	for label, series := range raw.StateTimes {
		state := classifyLabel(label)
		for _, v := range series {
			snap.StateTimes[state] += v
		}
	}
	if len(raw.PoreOccupancy) > 0 {
		snap.OccupancyCounts = make(map[types.PoreCategory]int, 4)
		for _, v := range raw.PoreOccupancy {
			snap.OccupancyCounts[OccupancyCategory(v)]++
		}
	}
	return snap
}

// OccupancyCategory buckets a pore-occupancy fraction by fixed thresholds.
func OccupancyCategory(v float32) types.PoreCategory {
	switch {
	case v >= 0.2:
		return types.PoreSequencing
	case v >= 0.05:
		return types.PoreAvailable
	case v > 0:
		return types.PoreInactive
	default:
		return types.PoreUnavailable
	}
}

// PoreCountsFrom aggregates raw channel-state labels into the active-pores
// summary. Unreported channels (empty label) are not counted.
func PoreCountsFrom(states []string) types.PoreCounts {
	var counts types.PoreCounts
	for _, label := range states {
		if label == "" {
			continue
		}
		l := strings.ToLower(label)
		switch {
		case strings.Contains(l, "strand"), strings.Contains(l, "sequencing"):
			counts.Sequencing++
		case strings.Contains(l, "pore"), strings.Contains(l, "single"):
			counts.PoreAvailable++
		case strings.Contains(l, "unavailable"), strings.Contains(l, "saturated"):
			counts.Unavailable++
		case strings.Contains(l, "inactive"), strings.Contains(l, "zero"),
			strings.Contains(l, "multiple"):
			counts.Inactive++
		default:
			counts.Other++
		}
	}
	return counts
}

// StateCountsFrom tallies the raw labels verbatim for display.
func StateCountsFrom(states []string) map[string]int {
	counts := make(map[string]int)
	for _, label := range states {
		if label == "" {
			continue
		}
		counts[label]++
	}
	return counts
}
