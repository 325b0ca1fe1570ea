package types

import "time"

// PositionState is the coarse lifecycle state of a sequencing position as
// reported by the discovery service.
type PositionState string

const (
	PositionIdle         PositionState = "idle"
	PositionInitializing PositionState = "initializing"
	PositionRunning      PositionState = "running"
	PositionError        PositionState = "error"
)

// Position is one physical sequencing slot being monitored. Identity is the
// name, which is stable for the lifetime of a session.
type Position struct {
	// Stable identifier, same as Name for standalone positions.
	ID string `json:"id"`
	// Human-friendly position name (e.g. "X1").
	Name string `json:"name"`
	// Parent device identifier (e.g. "MS00001").
	DeviceID string `json:"device_id"`
	// Device family reported by the server (e.g. "minion", "p2").
	DeviceType string `json:"device_type,omitempty"`
	// Coarse discovery-level state.
	State PositionState `json:"state"`
	// Port of the position's own control services. Zero means the
	// position is not running its services.
	ControlPort int `json:"control_port"`
	// True for simulated devices.
	Simulated bool `json:"simulated,omitempty"`
}

// DeviceState mirrors PositionState at device granularity.
type DeviceState string

const (
	DeviceReady DeviceState = "ready"
	DeviceError DeviceState = "error"
)

// Device is a connected instrument, derived by de-duplicating positions on
// their parent device id.
type Device struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	State DeviceState `json:"state"`
}

// RunState is the derived per-position acquisition state. It merges the
// coarse acquisition status with the finer protocol phase.
type RunState string

const (
	RunIdle        RunState = "idle"
	RunStarting    RunState = "starting"
	RunRunning     RunState = "running"
	RunMuxScanning RunState = "mux_scanning"
	RunPaused      RunState = "paused"
	RunFinishing   RunState = "finishing"
	RunStopped     RunState = "stopped"
	RunError       RunState = "error"
)

// IsActive reports whether the state represents an in-progress run.
// Per-run caches are only valid while this holds.
func (s RunState) IsActive() bool {
	switch s {
	case RunStarting, RunRunning, RunMuxScanning, RunPaused, RunFinishing:
		return true
	}
	return false
}

// Label returns a short display label.
func (s RunState) Label() string {
	switch s {
	case RunIdle:
		return "Idle"
	case RunStarting:
		return "Starting"
	case RunRunning:
		return "Running"
	case RunMuxScanning:
		return "Pore Scan"
	case RunPaused:
		return "Paused"
	case RunFinishing:
		return "Finishing"
	case RunStopped:
		return "Stopped"
	case RunError:
		return "Error"
	}
	return string(s)
}

// ConnectionPhase enumerates the session connectivity states.
type ConnectionPhase string

const (
	Connecting   ConnectionPhase = "connecting"
	Connected    ConnectionPhase = "connected"
	Disconnected ConnectionPhase = "disconnected"
	Reconnecting ConnectionPhase = "reconnecting"
)

// ConnectionState is the externally observable connectivity of the single
// logical session. Exactly one session is current at a time.
type ConnectionState struct {
	Phase ConnectionPhase `json:"phase"`
	// Set while disconnected.
	Since  time.Time `json:"since,omitempty"`
	Reason string    `json:"reason,omitempty"`
	// Reconnect attempt counter, set while reconnecting.
	Attempt int `json:"attempt,omitempty"`
}

// StatsSnapshot holds cumulative counters for the current run plus derived
// display figures. Counters reset implicitly when RunID changes.
type StatsSnapshot struct {
	RunID          string  `json:"run_id"`
	ReadsProcessed uint64  `json:"reads_processed"`
	ReadsPassed    uint64  `json:"reads_passed"`
	ReadsFailed    uint64  `json:"reads_failed"`
	BasesPassed    uint64  `json:"bases_passed"`
	BasesFailed    uint64  `json:"bases_failed"`
	BasesCalled    uint64  `json:"bases_called"`
	MeanReadLength float64 `json:"mean_read_length"`
	// Derived from the last two yield points, recomputed at most once
	// per throttle interval.
	ThroughputBPS  float64 `json:"throughput_bps"`
	ThroughputGbph float64 `json:"throughput_gbph"`
	// Median q-score of the latest quality dataset, zero when unknown.
	MeanQuality float64   `json:"mean_quality,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PassRate returns the fraction of classified reads that passed, as a
// percentage in [0, 100].
func (s StatsSnapshot) PassRate() float64 {
	total := s.ReadsPassed + s.ReadsFailed
	if total == 0 {
		return 0
	}
	return float64(s.ReadsPassed) / float64(total) * 100
}

// YieldPoint is one cumulative reporting-interval sample. Sequences are
// strictly increasing in Seconds after reduction.
type YieldPoint struct {
	Seconds     int64  `json:"seconds"`
	Reads       uint64 `json:"reads"`
	Bases       uint64 `json:"bases"`
	ReadsPassed uint64 `json:"reads_passed"`
	ReadsFailed uint64 `json:"reads_failed"`
	BasesPassed uint64 `json:"bases_passed"`
	BasesFailed uint64 `json:"bases_failed"`
}

// BucketRange is a half-open [Start, End) histogram bucket boundary in bases.
type BucketRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// HistogramView is a server-computed read-length histogram. Outlier
// exclusion and the optional range are request parameters, not post-filters:
// changing either needs a fresh request because the server rebuckets.
type HistogramView struct {
	BucketRanges     []BucketRange `json:"bucket_ranges"`
	BucketValues     []uint64      `json:"bucket_values"`
	N50              float64       `json:"n50"`
	OutliersExcluded bool          `json:"outliers_excluded"`
	OutlierPercent   float64       `json:"outlier_percent"`
	RequestedRange   *BucketRange  `json:"requested_range,omitempty"`
	SourceDataEnd    uint64        `json:"source_data_end"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// ChannelState is the canonical classification of a raw server-reported
// channel-state label.
type ChannelState string

const (
	StateStrand      ChannelState = "strand"
	StatePore        ChannelState = "pore"
	StateAdapter     ChannelState = "adapter"
	StateUnavailable ChannelState = "unavailable"
	StateUnblock     ChannelState = "unblock"
	StateOther       ChannelState = "other"
)

// DutyTimeSnapshot is the bounded reduction of one duty-time stream read:
// per-canonical-state time totals plus per-channel pore occupancy in [0, 1].
type DutyTimeSnapshot struct {
	RangeStart    uint64                  `json:"range_start"`
	RangeEnd      uint64                  `json:"range_end"`
	StateTimes    map[ChannelState]uint64 `json:"state_times"`
	PoreOccupancy []float32               `json:"pore_occupancy"`
	// Channels bucketed by the fixed occupancy thresholds.
	OccupancyCounts map[PoreCategory]int `json:"occupancy_counts,omitempty"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// PoreCategory buckets a pore-occupancy value by fixed thresholds.
type PoreCategory string

const (
	PoreSequencing  PoreCategory = "sequencing"
	PoreAvailable   PoreCategory = "pore_available"
	PoreInactive    PoreCategory = "inactive"
	PoreUnavailable PoreCategory = "unavailable"
)

// ChannelStatesSnapshot carries the raw per-channel labels from one
// channel-state read. States is indexed by zero-based channel index; labels
// are free-form server strings.
type ChannelStatesSnapshot struct {
	ChannelCount int            `json:"channel_count"`
	States       []string       `json:"states"`
	StateCounts  map[string]int `json:"state_counts"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// PoreCounts aggregates classified channel labels for the "active pores"
// summary.
type PoreCounts struct {
	Sequencing    int `json:"sequencing"`
	PoreAvailable int `json:"pore_available"`
	Unavailable   int `json:"unavailable"`
	Inactive      int `json:"inactive"`
	Other         int `json:"other"`
}

// GridCoord is a compacted (column, row) cell, zero-based.
type GridCoord struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

// ChannelTopology maps channel indexes onto a dense grid with no empty rows
// or columns. len(Coords) always equals ChannelCount; channels with no
// layout record sit at (0, 0).
type ChannelTopology struct {
	ChannelCount int         `json:"channel_count"`
	Width        int         `json:"width"`
	Height       int         `json:"height"`
	Coords       []GridCoord `json:"coords"`
}

// RunInfo identifies the current acquisition on a position. Empty RunID
// means no acquisition has run yet.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	StartTime time.Time `json:"start_time,omitempty"`
}
