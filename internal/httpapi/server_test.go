package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"seqmon/internal/rpc"
	"seqmon/pkg/types"
)

type fakeService struct {
	status   types.StatusResponse
	statuses map[string]types.PositionStatus
	yield    map[string][]types.YieldPoint
	duty     map[string]types.DutyTimeSnapshot
	channels map[string]types.ChannelStatesSnapshot
	topology map[string]types.ChannelTopology

	histView types.HistogramView
	histErr  error
	histOpts *rpc.HistogramOptions

	actions   []string
	actionErr error
}

func (f *fakeService) Status() types.StatusResponse { return f.status }

func (f *fakeService) Positions() []types.Position {
	var out []types.Position
	for _, ps := range f.status.Positions {
		out = append(out, ps.Position)
	}
	return out
}

func (f *fakeService) PositionStatus(name string) (types.PositionStatus, bool) {
	ps, ok := f.statuses[name]
	return ps, ok
}

func (f *fakeService) Yield(name string) ([]types.YieldPoint, bool) {
	y, ok := f.yield[name]
	return y, ok
}

func (f *fakeService) DutyTime(name string) (types.DutyTimeSnapshot, bool) {
	d, ok := f.duty[name]
	return d, ok
}

func (f *fakeService) ChannelStates(name string) (types.ChannelStatesSnapshot, bool) {
	c, ok := f.channels[name]
	return c, ok
}

func (f *fakeService) Topology(name string) (types.ChannelTopology, bool) {
	t, ok := f.topology[name]
	return t, ok
}

func (f *fakeService) Histogram(_ context.Context, name string, opts *rpc.HistogramOptions) (types.HistogramView, error) {
	f.histOpts = opts
	if f.histErr != nil {
		return types.HistogramView{}, f.histErr
	}
	return f.histView, nil
}

func (f *fakeService) Pause(_ context.Context, name string) error {
	f.actions = append(f.actions, "pause:"+name)
	return f.actionErr
}

func (f *fakeService) Resume(_ context.Context, name string) error {
	f.actions = append(f.actions, "resume:"+name)
	return f.actionErr
}

func (f *fakeService) StopAcquisition(_ context.Context, name string) error {
	f.actions = append(f.actions, "stop_acquisition:"+name)
	return f.actionErr
}

func (f *fakeService) StopProtocol(_ context.Context, name string) error {
	f.actions = append(f.actions, "stop_protocol:"+name)
	return f.actionErr
}

func newTestService() *fakeService {
	pos := types.Position{ID: "X1", Name: "X1", DeviceID: "MS00001", State: types.PositionRunning, ControlPort: 8001}
	return &fakeService{
		status: types.StatusResponse{
			Connection: types.ConnectionStatus{Endpoint: "localhost:9501", Phase: "connected"},
			Positions:  []types.PositionStatus{{Position: pos, RunState: types.RunRunning, RunID: "run-1"}},
		},
		statuses: map[string]types.PositionStatus{
			"X1": {Position: pos, RunState: types.RunRunning, RunID: "run-1"},
		},
		yield: map[string][]types.YieldPoint{
			"X1": {{Seconds: 60, Bases: 1000}},
		},
		duty: map[string]types.DutyTimeSnapshot{
			"X1": {StateTimes: map[types.ChannelState]uint64{types.StateStrand: 30}},
		},
		channels: map[string]types.ChannelStatesSnapshot{
			"X1": {ChannelCount: 2, States: []string{"strand", "pore"}},
		},
		topology: map[string]types.ChannelTopology{
			"X1": {ChannelCount: 2, Width: 2, Height: 1, Coords: []types.GridCoord{{}, {Col: 1}}},
		},
		histView: types.HistogramView{N50: 850},
	}
}

func doRequest(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := doRequest(t, NewMux(newTestService()), http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	rec := doRequest(t, NewMux(newTestService()), http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp types.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Connection.Phase != "connected" || len(resp.Positions) != 1 {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestPositionEndpoints(t *testing.T) {
	mux := NewMux(newTestService())
	for _, path := range []string{
		"/positions",
		"/positions/X1",
		"/positions/X1/yield",
		"/positions/X1/dutytime",
		"/positions/X1/channels",
		"/positions/X1/topology",
		"/positions/X1/histogram",
	} {
		rec := doRequest(t, mux, http.MethodGet, path)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d: %s", path, rec.Code, rec.Body)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Errorf("%s: content type = %q", path, ct)
		}
	}
}

func TestUnknownPositionIs404(t *testing.T) {
	mux := NewMux(newTestService())
	for _, path := range []string{
		"/positions/X9",
		"/positions/X9/yield",
		"/positions/X9/dutytime",
		"/positions/X9/channels",
		"/positions/X9/topology",
	} {
		rec := doRequest(t, mux, http.MethodGet, path)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, rec.Code)
		}
		var resp types.ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if resp.Code != http.StatusNotFound || resp.Error == "" {
			t.Errorf("%s: unexpected error payload: %+v", path, resp)
		}
	}
}

func TestHistogramQueryParsing(t *testing.T) {
	svc := newTestService()
	mux := NewMux(svc)

	rec := doRequest(t, mux, http.MethodGet, "/positions/X1/histogram?exclude_outliers=false&start=100&end=2000")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if svc.histOpts == nil || svc.histOpts.ExcludeOutliers {
		t.Fatalf("options not forwarded: %+v", svc.histOpts)
	}
	if svc.histOpts.Range == nil || svc.histOpts.Range.Start != 100 || svc.histOpts.Range.End != 2000 {
		t.Fatalf("range not forwarded: %+v", svc.histOpts.Range)
	}

	// No query at all: nil options, serve cache.
	svc.histOpts = &rpc.HistogramOptions{}
	if rec := doRequest(t, mux, http.MethodGet, "/positions/X1/histogram"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.histOpts != nil {
		t.Fatalf("expected nil options for bare request, got %+v", svc.histOpts)
	}
}

func TestHistogramQueryValidation(t *testing.T) {
	mux := NewMux(newTestService())
	for _, target := range []string{
		"/positions/X1/histogram?exclude_outliers=maybe",
		"/positions/X1/histogram?start=100",
		"/positions/X1/histogram?start=abc&end=200",
		"/positions/X1/histogram?start=200&end=100",
	} {
		rec := doRequest(t, mux, http.MethodGet, target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestActions(t *testing.T) {
	svc := newTestService()
	mux := NewMux(svc)

	cases := map[string]string{
		"/positions/X1/pause":              "pause:X1",
		"/positions/X1/resume":             "resume:X1",
		"/positions/X1/stop":               "stop_acquisition:X1",
		"/positions/X1/stop?protocol=true": "stop_protocol:X1",
	}
	for target, want := range cases {
		svc.actions = nil
		rec := doRequest(t, mux, http.MethodPost, target)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d: %s", target, rec.Code, rec.Body)
			continue
		}
		if len(svc.actions) != 1 || svc.actions[0] != want {
			t.Errorf("%s: actions = %v, want [%s]", target, svc.actions, want)
		}
	}
}

func TestActionErrorMapping(t *testing.T) {
	svc := newTestService()
	mux := NewMux(svc)

	svc.actionErr = &rpc.NotFoundError{Resource: "position", ID: "X1"}
	if rec := doRequest(t, mux, http.MethodPost, "/positions/X1/pause"); rec.Code != http.StatusNotFound {
		t.Fatalf("not-found action: status = %d, want 404", rec.Code)
	}

	svc.actionErr = &rpc.AuthError{Message: "bad credential"}
	if rec := doRequest(t, mux, http.MethodPost, "/positions/X1/pause"); rec.Code != http.StatusBadRequest {
		t.Fatalf("auth failure: status = %d, want 400", rec.Code)
	}

	svc.actionErr = rpc.ErrDisconnected
	if rec := doRequest(t, mux, http.MethodPost, "/positions/X1/pause"); rec.Code != http.StatusBadGateway {
		t.Fatalf("disconnected: status = %d, want 502", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux := NewMux(newTestService())
	// Label series only exist after a first observed request.
	doRequest(t, mux, http.MethodGet, "/healthz")

	rec := doRequest(t, mux, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "seqmon_http_requests_total") {
		t.Fatal("expected seqmon http metrics in exposition")
	}
}
