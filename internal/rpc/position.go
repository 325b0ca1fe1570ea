package rpc

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"seqmon/pkg/types"
)

// Fraction of reads dropped from each histogram tail when outlier
// exclusion is requested. The server rebuckets, so this is a request
// parameter rather than a post-filter.
const histogramOutlierPercent = 0.01

// HistogramOptions selects how the server builds a read-length histogram.
type HistogramOptions struct {
	ExcludeOutliers bool
	Range           *types.BucketRange
}

// DutyTimeRaw is one unreduced duty-time stream read: per-label time
// series over the returned bucket ranges, plus per-channel pore occupancy.
type DutyTimeRaw struct {
	BucketRanges  []types.BucketRange
	StateTimes    map[string][]uint64
	PoreOccupancy []float32
}

// LayoutRecord places one channel, by zero-based index, at its physical
// grid coordinates.
type LayoutRecord struct {
	Channel int
	PhysX   uint32
	PhysY   uint32
}

// PositionClient talks to the control-port services of one position over
// its own credentialed connection.
type PositionClient struct {
	position  types.Position
	conn      invoker
	closeConn func() error
	timeouts  Timeouts
	log       zerolog.Logger
}

// Position returns the position this session was opened for.
func (p *PositionClient) Position() types.Position { return p.position }

// Close releases the position connection.
func (p *PositionClient) Close() error {
	if p.closeConn != nil {
		return p.closeConn()
	}
	return nil
}

// RunState derives the position's run state from the coarse acquisition
// status, refined by the protocol phase while processing. A failed phase
// query downgrades gracefully to the coarse answer.
func (p *PositionClient) RunState(ctx context.Context) (types.RunState, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Request)
	defer cancel()

	var resp currentStatusResponse
	if err := p.conn.Invoke(ctx, methodCurrentStatus, &currentStatusRequest{}, &resp); err != nil {
		return types.RunIdle, rpcError("get_current_status", err)
	}

	switch resp.Status {
	case statusReady:
		return types.RunIdle, nil
	case statusStarting:
		return types.RunStarting, nil
	case statusProcessing:
		return p.refineProcessing(ctx), nil
	case statusFinishing:
		return types.RunFinishing, nil
	case statusError:
		return types.RunError, nil
	default:
		return types.RunIdle, nil
	}
}

// refineProcessing maps the protocol phase onto the finer run states.
// Unknown phases and query failures keep the coarse Running answer.
func (p *PositionClient) refineProcessing(ctx context.Context) types.RunState {
	var resp currentProtocolRunResponse
	if err := p.conn.Invoke(ctx, methodCurrentProtocolRun, &currentProtocolRunRequest{}, &resp); err != nil {
		p.log.Debug().Err(err).Msg("protocol phase query failed, keeping coarse state")
		return types.RunRunning
	}
	switch resp.Phase {
	case phasePreparingForMuxScan, phaseMuxScan:
		return types.RunMuxScanning
	case phasePaused, phasePausing,
		phaseBadTemperaturePause, phaseFlowcellDisconnectPause,
		phaseFlowcellMismatchPause, phaseDeviceErrorPause, phaseLowDiskSpacePause:
		return types.RunPaused
	case phaseResuming, phaseInitialising:
		return types.RunStarting
	case phaseSequencing:
		return types.RunRunning
	case phaseCompleted:
		return types.RunFinishing
	default:
		return types.RunRunning
	}
}

// RunInfo returns the current acquisition's identity and cumulative yield
// counters. FailedPrecondition means no acquisition has run yet and is not
// an error: both results come back zero-valued.
func (p *PositionClient) RunInfo(ctx context.Context) (types.RunInfo, types.StatsSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Request)
	defer cancel()

	var resp runInfoResponse
	if err := p.conn.Invoke(ctx, methodGetRunInfo, &runInfoRequest{}, &resp); err != nil {
		if s, ok := status.FromError(err); ok && s.Code() == codes.FailedPrecondition {
			return types.RunInfo{}, types.StatsSnapshot{}, nil
		}
		return types.RunInfo{}, types.StatsSnapshot{}, rpcError("get_run_info", err)
	}

	info := types.RunInfo{RunID: resp.RunID}
	if resp.StartTime > 0 {
		info.StartTime = time.Unix(resp.StartTime, 0).UTC()
	}

	stats := types.StatsSnapshot{RunID: resp.RunID, UpdatedAt: time.Now()}
	if y := resp.YieldSummary; y != nil {
		stats.ReadsProcessed = uint64(y.ReadCount)
		stats.ReadsPassed = uint64(y.PassReadCount)
		stats.ReadsFailed = uint64(y.FailReadCount)
		stats.BasesPassed = uint64(y.PassBases)
		stats.BasesFailed = uint64(y.FailBases)
		stats.BasesCalled = stats.BasesPassed + stats.BasesFailed
		if classified := stats.ReadsPassed + stats.ReadsFailed; classified > 0 {
			stats.MeanReadLength = float64(stats.BasesCalled) / float64(classified)
		}
	}
	return info, stats, nil
}

// YieldHistory performs one bounded read of the acquisition output stream
// and flattens the returned snapshots to raw yield points. Ordering and
// de-duplication are the caller's concern.
func (p *PositionClient) YieldHistory(ctx context.Context, runID string) ([]types.YieldPoint, error) {
	var resp streamAcqOutputResponse
	if err := p.streamReadOne(ctx, "stream_acquisition_output", methodStreamAcqOutput,
		&streamAcqOutputRequest{RunID: runID}, &resp); err != nil {
		return nil, err
	}

	var points []types.YieldPoint
	for _, filtered := range resp.Snapshots {
		for _, snap := range filtered.Snapshots {
			pt := types.YieldPoint{Seconds: snap.Seconds}
			if y := snap.YieldSummary; y != nil {
				pt.Reads = uint64(y.ReadCount)
				pt.ReadsPassed = uint64(y.PassReadCount)
				pt.ReadsFailed = uint64(y.FailReadCount)
				pt.BasesPassed = uint64(y.PassBases)
				pt.BasesFailed = uint64(y.FailBases)
				pt.Bases = pt.BasesPassed + pt.BasesFailed
			}
			points = append(points, pt)
		}
	}
	return points, nil
}

// DutyTime performs one bounded read of the duty-time stream.
func (p *PositionClient) DutyTime(ctx context.Context, runID string) (DutyTimeRaw, error) {
	var resp streamDutyTimeResponse
	if err := p.streamReadOne(ctx, "stream_duty_time", methodStreamDutyTime,
		&streamDutyTimeRequest{RunID: runID}, &resp); err != nil {
		return DutyTimeRaw{}, err
	}

	raw := DutyTimeRaw{
		StateTimes:    make(map[string][]uint64, len(resp.ChannelStates)),
		PoreOccupancy: resp.PoreOccupancy,
	}
	for _, r := range resp.BucketRanges {
		raw.BucketRanges = append(raw.BucketRanges, types.BucketRange{Start: r.Start, End: r.End})
	}
	for label, data := range resp.ChannelStates {
		raw.StateTimes[label] = data.StateTimes
	}
	return raw, nil
}

// Histogram performs one bounded read of the read-length histogram stream.
// The options are part of the request: the server rebuckets per call.
func (p *PositionClient) Histogram(ctx context.Context, runID string, opts HistogramOptions) (types.HistogramView, error) {
	req := &streamHistogramRequest{
		RunID:          runID,
		ReadLengthType: readLengthEstimatedBases,
		PollSeconds:    1,
	}
	if opts.ExcludeOutliers {
		req.DiscardOutlierPercent = histogramOutlierPercent
	}
	if opts.Range != nil {
		req.DataSelection = &wireDataSelection{
			Start: int64(opts.Range.Start),
			End:   int64(opts.Range.End),
		}
	}

	var resp streamHistogramResponse
	if err := p.streamReadOne(ctx, "stream_read_length_histogram", methodStreamHistogram, req, &resp); err != nil {
		return types.HistogramView{}, err
	}

	view := types.HistogramView{
		OutliersExcluded: opts.ExcludeOutliers,
		RequestedRange:   opts.Range,
		SourceDataEnd:    resp.SourceDataEnd,
		UpdatedAt:        time.Now(),
	}
	if opts.ExcludeOutliers {
		view.OutlierPercent = histogramOutlierPercent
	}
	for _, r := range resp.BucketRanges {
		view.BucketRanges = append(view.BucketRanges, types.BucketRange{Start: r.Start, End: r.End})
	}
	if len(resp.HistogramData) > 0 {
		last := resp.HistogramData[len(resp.HistogramData)-1]
		view.BucketValues = last.BucketValues
		view.N50 = last.N50
	}
	return view, nil
}

// MeanQuality reads the q-score boxplot stream once and returns the median
// of the latest dataset. The second result is false when the server has no
// datasets yet.
func (p *PositionClient) MeanQuality(ctx context.Context, runID string) (float64, bool, error) {
	req := &streamBoxplotRequest{
		RunID:        runID,
		DataType:     boxplotTypeQScore,
		DatasetWidth: 60,
		PollSeconds:  1,
	}
	var resp streamBoxplotResponse
	if err := p.streamReadOne(ctx, "stream_quality_boxplot", methodStreamBoxplot, req, &resp); err != nil {
		return 0, false, err
	}
	if len(resp.Datasets) == 0 {
		return 0, false, nil
	}
	return resp.Datasets[len(resp.Datasets)-1].Q50, true, nil
}

// ChannelStates returns the raw channel-state label per channel, indexed by
// zero-based channel index. Channels the server does not report stay empty.
func (p *PositionClient) ChannelStates(ctx context.Context, channelCount int) ([]string, error) {
	if channelCount <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Request)
	defer cancel()

	req := &getChannelStatesRequest{FirstChannel: 1, LastChannel: channelCount, WaitForProcessing: true}
	var resp getChannelStatesResponse
	if err := p.conn.Invoke(ctx, methodGetChannelStates, req, &resp); err != nil {
		return nil, rpcError("get_channel_states", err)
	}

	states := make([]string, channelCount)
	for _, cs := range resp.ChannelStates {
		idx := cs.Channel - 1
		if idx < 0 || idx >= channelCount {
			continue
		}
		states[idx] = cs.Name
	}
	return states, nil
}

// Layout fetches the physical channel layout. Channel ids are 1-based on
// the wire and converted to zero-based indexes here; a channel's first mux
// record carries its coordinates.
func (p *PositionClient) Layout(ctx context.Context) ([]LayoutRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Request)
	defer cancel()

	var resp getChannelsLayoutResponse
	if err := p.conn.Invoke(ctx, methodGetChannelsLayout, &getChannelsLayoutRequest{}, &resp); err != nil {
		return nil, rpcError("get_channels_layout", err)
	}

	var records []LayoutRecord
	for _, rec := range resp.ChannelRecords {
		if rec.ID == 0 || len(rec.MuxRecords) == 0 {
			continue
		}
		records = append(records, LayoutRecord{
			Channel: int(rec.ID) - 1,
			PhysX:   rec.MuxRecords[0].PhysX,
			PhysY:   rec.MuxRecords[0].PhysY,
		})
	}
	return records, nil
}

// Pause pauses the current protocol run.
func (p *PositionClient) Pause(ctx context.Context) error {
	return p.protocolAction(ctx, "pause_protocol", methodPauseProtocol, &pauseProtocolRequest{})
}

// Resume resumes a paused protocol run.
func (p *PositionClient) Resume(ctx context.Context) error {
	return p.protocolAction(ctx, "resume_protocol", methodResumeProtocol, &resumeProtocolRequest{})
}

// StopProtocol stops the whole protocol run, not just acquisition.
func (p *PositionClient) StopProtocol(ctx context.Context) error {
	return p.protocolAction(ctx, "stop_protocol", methodStopProtocol, &stopProtocolRequest{})
}

// StopAcquisition stops the current acquisition only.
func (p *PositionClient) StopAcquisition(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Request)
	defer cancel()
	var resp stopAcquisitionResponse
	if err := p.conn.Invoke(ctx, methodStopAcquisition, &stopAcquisitionRequest{}, &resp); err != nil {
		return rpcError("stop_acquisition", err)
	}
	return nil
}

func (p *PositionClient) protocolAction(ctx context.Context, op, method string, req any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Request)
	defer cancel()
	var resp protocolActionResponse
	if err := p.conn.Invoke(ctx, method, req, &resp); err != nil {
		return rpcError(op, err)
	}
	return nil
}

// streamReadOne opens a server stream, sends req, and waits for exactly one
// message within the stream-read timeout. The telemetry streams push fresh
// snapshots indefinitely; one bounded read per refresh pass is all the
// monitor consumes.
func (p *PositionClient) streamReadOne(ctx context.Context, op, method string, req, resp any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.StreamRead)
	defer cancel()

	desc := &grpc.StreamDesc{StreamName: op, ServerStreams: true}
	stream, err := p.conn.NewStream(ctx, desc, method)
	if err != nil {
		return rpcError(op, err)
	}
	if err := stream.SendMsg(req); err != nil {
		return rpcError(op, err)
	}
	if err := stream.CloseSend(); err != nil {
		return rpcError(op, err)
	}
	if err := stream.RecvMsg(resp); err != nil {
		if errors.Is(err, io.EOF) {
			return &ProtocolError{Message: op + ": stream closed before first message"}
		}
		return rpcError(op, err)
	}
	return nil
}
