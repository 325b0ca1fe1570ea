package rpc

// Wire messages and method names for the five instrument service families.
// Field names follow the server's JSON schema.

const (
	methodListPositions      = "/sequencer.discovery.DiscoveryService/ListPositions"
	methodCredentialPath     = "/sequencer.discovery.DiscoveryService/GetLocalCredentialPath"
	methodCurrentStatus      = "/sequencer.acquisition.AcquisitionService/GetCurrentStatus"
	methodGetRunInfo         = "/sequencer.acquisition.AcquisitionService/GetRunInfo"
	methodStopAcquisition    = "/sequencer.acquisition.AcquisitionService/Stop"
	methodCurrentProtocolRun = "/sequencer.protocol.ProtocolService/GetCurrentProtocolRun"
	methodPauseProtocol      = "/sequencer.protocol.ProtocolService/Pause"
	methodResumeProtocol     = "/sequencer.protocol.ProtocolService/Resume"
	methodStopProtocol       = "/sequencer.protocol.ProtocolService/Stop"
	methodStreamAcqOutput    = "/sequencer.statistics.StatisticsService/StreamAcquisitionOutput"
	methodStreamDutyTime     = "/sequencer.statistics.StatisticsService/StreamDutyTime"
	methodStreamHistogram    = "/sequencer.statistics.StatisticsService/StreamReadLengthHistogram"
	methodStreamBoxplot      = "/sequencer.statistics.StatisticsService/StreamQualityBoxplot"
	methodGetChannelStates   = "/sequencer.data.DataService/GetChannelStates"
	methodGetChannelsLayout  = "/sequencer.device.DeviceService/GetChannelsLayout"
)

// credentialMetadataKey carries the bearer credential on every
// authenticated call.
const credentialMetadataKey = "local-auth"

// Coarse acquisition status codes.
const (
	statusReady      = 0
	statusStarting   = 1
	statusProcessing = 2
	statusFinishing  = 3
	statusError      = 4
)

// Protocol phase codes, finer-grained than the acquisition status.
const (
	phaseUnknown                 = 0
	phaseInitialising            = 1
	phaseSequencing              = 2
	phasePreparingForMuxScan     = 3
	phaseMuxScan                 = 4
	phasePaused                  = 5
	phasePausing                 = 6
	phaseResuming                = 7
	phaseCompleted               = 8
	phaseBadTemperaturePause     = 9
	phaseFlowcellDisconnectPause = 10
	phaseFlowcellMismatchPause   = 11
	phaseDeviceErrorPause        = 12
	phaseLowDiskSpacePause       = 13
)

// Discovery position states.
const (
	wirePositionIdle         = 0
	wirePositionInitialising = 1
	wirePositionRunning      = 2
	wirePositionHardwareErr  = 3
	wirePositionSoftwareErr  = 4
)

type listPositionsRequest struct{}

type wireRPCPorts struct {
	Secure int `json:"secure"`
}

type wirePosition struct {
	Name       string        `json:"name"`
	ParentName string        `json:"parent_name,omitempty"`
	DeviceType string        `json:"device_type,omitempty"`
	State      int           `json:"state"`
	RPCPorts   *wireRPCPorts `json:"rpc_ports,omitempty"`
	Simulated  bool          `json:"is_simulated,omitempty"`
}

type listPositionsResponse struct {
	Positions []wirePosition `json:"positions"`
}

type credentialPathRequest struct{}

type credentialPathResponse struct {
	Path string `json:"path"`
}

type currentStatusRequest struct{}

type currentStatusResponse struct {
	Status int `json:"status"`
}

type runInfoRequest struct{}

type wireYieldSummary struct {
	ReadCount     int64 `json:"read_count"`
	PassReadCount int64 `json:"basecalled_pass_read_count"`
	FailReadCount int64 `json:"basecalled_fail_read_count"`
	PassBases     int64 `json:"basecalled_pass_bases"`
	FailBases     int64 `json:"basecalled_fail_bases"`
}

type runInfoResponse struct {
	RunID        string            `json:"run_id"`
	StartTime    int64             `json:"start_time,omitempty"`
	YieldSummary *wireYieldSummary `json:"yield_summary,omitempty"`
}

type stopAcquisitionRequest struct{}
type stopAcquisitionResponse struct{}

type currentProtocolRunRequest struct{}

type currentProtocolRunResponse struct {
	Phase int `json:"phase"`
}

type pauseProtocolRequest struct{}
type resumeProtocolRequest struct{}
type stopProtocolRequest struct{}
type protocolActionResponse struct{}

type streamAcqOutputRequest struct {
	RunID string `json:"acquisition_run_id"`
}

type wireAcqSnapshot struct {
	Seconds      int64             `json:"seconds"`
	YieldSummary *wireYieldSummary `json:"yield_summary,omitempty"`
}

type wireFilteredSnapshots struct {
	Snapshots []wireAcqSnapshot `json:"snapshots"`
}

type streamAcqOutputResponse struct {
	Snapshots []wireFilteredSnapshots `json:"snapshots"`
}

type streamDutyTimeRequest struct {
	RunID string `json:"acquisition_run_id"`
}

type wireBucketRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

type wireStateData struct {
	StateTimes []uint64 `json:"state_times"`
}

type streamDutyTimeResponse struct {
	BucketRanges  []wireBucketRange        `json:"bucket_ranges"`
	ChannelStates map[string]wireStateData `json:"channel_states"`
	PoreOccupancy []float32                `json:"pore_occupancy"`
}

type wireDataSelection struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type streamHistogramRequest struct {
	RunID                 string             `json:"acquisition_run_id"`
	ReadLengthType        int                `json:"read_length_type"`
	DiscardOutlierPercent float64            `json:"discard_outlier_percent"`
	PollSeconds           int                `json:"poll_time_seconds"`
	DataSelection         *wireDataSelection `json:"data_selection,omitempty"`
}

// Histogram over estimated basecalled lengths.
const readLengthEstimatedBases = 1

type wireHistogramData struct {
	BucketValues []uint64 `json:"bucket_values"`
	N50          float64  `json:"n50"`
}

type streamHistogramResponse struct {
	BucketRanges  []wireBucketRange   `json:"bucket_ranges"`
	HistogramData []wireHistogramData `json:"histogram_data"`
	SourceDataEnd uint64              `json:"source_data_end"`
}

type streamBoxplotRequest struct {
	RunID        string `json:"acquisition_run_id"`
	DataType     int    `json:"data_type"`
	DatasetWidth int    `json:"dataset_width"`
	PollSeconds  int    `json:"poll_time"`
}

const boxplotTypeQScore = 1

type wireBoxplotDataset struct {
	Q50 float64 `json:"q50"`
}

type streamBoxplotResponse struct {
	Datasets []wireBoxplotDataset `json:"datasets"`
}

type getChannelStatesRequest struct {
	FirstChannel      int  `json:"first_channel"`
	LastChannel       int  `json:"last_channel"`
	WaitForProcessing bool `json:"wait_for_processing"`
}

type wireChannelState struct {
	Channel int    `json:"channel"`
	Name    string `json:"state_name"`
}

type getChannelStatesResponse struct {
	ChannelStates []wireChannelState `json:"channel_states"`
}

type getChannelsLayoutRequest struct{}

type wireMuxRecord struct {
	PhysX uint32 `json:"phys_x"`
	PhysY uint32 `json:"phys_y"`
}

type wireChannelRecord struct {
	ID         uint32          `json:"id"`
	MuxRecords []wireMuxRecord `json:"mux_records"`
}

type getChannelsLayoutResponse struct {
	ChannelRecords []wireChannelRecord `json:"channel_records"`
}
