package rpc

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"seqmon/pkg/types"
)

// Session is the live discovery-level connection. *Client is the real
// implementation; the monitor only sees this interface.
type Session interface {
	Endpoint() string
	ListPositions(ctx context.Context) ([]types.Position, error)
	Devices(ctx context.Context) ([]types.Device, error)
	OpenPosition(ctx context.Context, pos types.Position) (PositionSession, error)
	Close() error
}

// PositionSession covers the control-port services of a single position.
// Implementations are short-lived: opened for one refresh pass or one
// control action, then closed.
type PositionSession interface {
	Position() types.Position
	RunState(ctx context.Context) (types.RunState, error)
	RunInfo(ctx context.Context) (types.RunInfo, types.StatsSnapshot, error)
	YieldHistory(ctx context.Context, runID string) ([]types.YieldPoint, error)
	DutyTime(ctx context.Context, runID string) (DutyTimeRaw, error)
	Histogram(ctx context.Context, runID string, opts HistogramOptions) (types.HistogramView, error)
	MeanQuality(ctx context.Context, runID string) (float64, bool, error)
	ChannelStates(ctx context.Context, channelCount int) ([]string, error)
	Layout(ctx context.Context) ([]LayoutRecord, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	StopProtocol(ctx context.Context) error
	StopAcquisition(ctx context.Context) error
	Close() error
}

// SessionManager tracks the connection lifecycle: the current session if
// any, the externally visible phase, and the backoff bookkeeping between
// reconnect attempts. All methods are safe for concurrent use; at most one
// dial is ever in flight.
type SessionManager struct {
	mu          sync.Mutex
	dial        func(ctx context.Context) (Session, error)
	policy      ReconnectPolicy
	endpoint    string
	session     Session
	state       types.ConnectionState
	attempt     int
	lastAttempt time.Time
	dialing     bool
	log         zerolog.Logger
}

// NewSessionManager prepares a manager for the given discovery endpoint.
// Nothing is dialed until Connect, ConnectWithRetry or TryReconnect.
func NewSessionManager(host string, port int, timeouts Timeouts, policy ReconnectPolicy, log zerolog.Logger) *SessionManager {
	endpoint := net.JoinHostPort(host, strconv.Itoa(port))
	sm := &SessionManager{
		policy:   policy,
		endpoint: endpoint,
		state: types.ConnectionState{
			Phase: types.Disconnected,
			Since: time.Now(),
		},
		log: log,
	}
	sm.dial = func(ctx context.Context) (Session, error) {
		return Connect(ctx, host, port, timeouts, log)
	}
	return sm
}

// NewSessionManagerWithDial wires a custom dial function. Embedders and
// tests supply their own transport this way.
func NewSessionManagerWithDial(endpoint string, dial func(ctx context.Context) (Session, error), policy ReconnectPolicy, log zerolog.Logger) *SessionManager {
	return &SessionManager{
		dial:     dial,
		policy:   policy,
		endpoint: endpoint,
		state: types.ConnectionState{
			Phase: types.Disconnected,
			Since: time.Now(),
		},
		log: log,
	}
}

// Endpoint returns the discovery endpoint as host:port.
func (sm *SessionManager) Endpoint() string { return sm.endpoint }

// Connect performs a single connection attempt and records the outcome.
func (sm *SessionManager) Connect(ctx context.Context) error {
	sm.mu.Lock()
	if sm.session != nil {
		sm.mu.Unlock()
		return nil
	}
	if sm.dialing {
		sm.mu.Unlock()
		return ErrDisconnected
	}
	sm.dialing = true
	sm.state.Phase = types.Connecting
	sm.state.Since = time.Now()
	dial := sm.dial
	sm.mu.Unlock()

	s, err := dial(ctx)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.dialing = false
	sm.lastAttempt = time.Now()
	if err != nil {
		sm.recordFailureLocked(err)
		return err
	}
	sm.installLocked(s)
	return nil
}

// ConnectWithRetry blocks until a session is established, the policy's
// attempt budget is exhausted, a non-retriable error occurs, or ctx is
// cancelled.
func (sm *SessionManager) ConnectWithRetry(ctx context.Context) error {
	attempt := 0
	for {
		err := sm.Connect(ctx)
		if err == nil {
			return nil
		}
		if !Retriable(err) {
			return err
		}
		if sm.policy.MaxAttempts > 0 && attempt >= sm.policy.MaxAttempts {
			return err
		}
		delay := sm.policy.DelayForAttempt(attempt)
		sm.log.Warn().Int("attempt", attempt).Dur("delay", delay).Err(err).
			Msg("connection failed, retrying")
		select {
		case <-ctx.Done():
			return &ConnectionError{Endpoint: sm.endpoint, Err: ctx.Err()}
		case <-time.After(delay):
		}
		attempt++
	}
}

// TryReconnect attempts one reconnect if enough backoff time has elapsed
// since the last attempt. It returns true when a session is live on exit.
// Callers poll it from the refresh loop; premature calls are cheap no-ops.
func (sm *SessionManager) TryReconnect(ctx context.Context) bool {
	sm.mu.Lock()
	if sm.session != nil {
		sm.mu.Unlock()
		return true
	}
	if sm.dialing {
		sm.mu.Unlock()
		return false
	}
	if time.Since(sm.lastAttempt) < sm.policy.DelayForAttempt(sm.attempt) {
		sm.mu.Unlock()
		return false
	}
	sm.dialing = true
	sm.state.Phase = types.Reconnecting
	sm.state.Attempt = sm.attempt + 1
	dial := sm.dial
	attempt := sm.attempt
	sm.mu.Unlock()

	sm.log.Info().Int("attempt", attempt+1).Msg("attempting reconnect")
	s, err := dial(ctx)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.dialing = false
	sm.lastAttempt = time.Now()
	if err != nil {
		sm.attempt++
		sm.recordFailureLocked(err)
		return false
	}
	sm.installLocked(s)
	return true
}

// Session returns the live session, or ErrDisconnected.
func (sm *SessionManager) Session() (Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.session == nil {
		return nil, ErrDisconnected
	}
	return sm.session, nil
}

// Connected reports whether a session is currently live.
func (sm *SessionManager) Connected() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.session != nil
}

// CurrentState returns a copy of the externally visible connection state.
func (sm *SessionManager) CurrentState() types.ConnectionState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// MarkDisconnected drops the current session after a failure observed by a
// caller (for example a failed position listing) and restarts the backoff
// sequence from the initial delay.
func (sm *SessionManager) MarkDisconnected(reason string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.session != nil {
		_ = sm.session.Close()
		sm.session = nil
	}
	sm.attempt = 0
	sm.lastAttempt = time.Now()
	sm.state = types.ConnectionState{
		Phase:  types.Disconnected,
		Since:  time.Now(),
		Reason: reason,
	}
	sm.log.Warn().Str("reason", reason).Msg("connection lost")
}

// Close drops the session, if any, without scheduling a reconnect.
func (sm *SessionManager) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	var err error
	if sm.session != nil {
		err = sm.session.Close()
		sm.session = nil
	}
	sm.state = types.ConnectionState{
		Phase: types.Disconnected,
		Since: time.Now(),
	}
	return err
}

func (sm *SessionManager) installLocked(s Session) {
	sm.session = s
	sm.attempt = 0
	sm.state = types.ConnectionState{
		Phase: types.Connected,
		Since: time.Now(),
	}
	sm.log.Info().Str("endpoint", sm.endpoint).Msg("session established")
}

func (sm *SessionManager) recordFailureLocked(err error) {
	phase := types.Disconnected
	if sm.attempt > 0 {
		phase = types.Reconnecting
	}
	since := sm.state.Since
	if sm.state.Phase == types.Connected || since.IsZero() {
		since = time.Now()
	}
	sm.state = types.ConnectionState{
		Phase:   phase,
		Since:   since,
		Reason:  err.Error(),
		Attempt: sm.attempt,
	}
}
