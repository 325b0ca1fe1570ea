package monitor

import (
	"sort"

	"seqmon/internal/rpc"
	"seqmon/pkg/types"
)

// NormalizeLayout compacts physical channel coordinates onto a dense grid.
// Distinct x and y values are ranked independently, so gaps in the physical
// numbering produce no empty rows or columns. Channels without a layout
// record keep the zero coordinate; a physical collision at (0, 0) is
// indistinguishable from that default and is left as is.
func NormalizeLayout(records []rpc.LayoutRecord) types.ChannelTopology {
	if len(records) == 0 {
		return types.ChannelTopology{}
	}

	channelCount := 0
	for _, r := range records {
		if r.Channel+1 > channelCount {
			channelCount = r.Channel + 1
		}
	}

	xRank := rankValues(records, func(r rpc.LayoutRecord) uint32 { return r.PhysX })
	yRank := rankValues(records, func(r rpc.LayoutRecord) uint32 { return r.PhysY })

	coords := make([]types.GridCoord, channelCount)
	for _, r := range records {
		coords[r.Channel] = types.GridCoord{
			Col: xRank[r.PhysX],
			Row: yRank[r.PhysY],
		}
	}

	return types.ChannelTopology{
		ChannelCount: channelCount,
		Width:        len(xRank),
		Height:       len(yRank),
		Coords:       coords,
	}
}

func rankValues(records []rpc.LayoutRecord, pick func(rpc.LayoutRecord) uint32) map[uint32]int {
	seen := make(map[uint32]struct{}, len(records))
	for _, r := range records {
		seen[pick(r)] = struct{}{}
	}
	values := make([]uint32, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	rank := make(map[uint32]int, len(values))
	for i, v := range values {
		rank[v] = i
	}
	return rank
}
