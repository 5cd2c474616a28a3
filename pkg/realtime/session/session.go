// Package session runs the lifecycle of the single realtime voice session:
// credentials, peer connection, microphone, event channel and SDP exchange.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-catalog/pkg/realtime/credentials"
	"github.com/vango-go/vai-catalog/pkg/realtime/eventchannel"
	"github.com/vango-go/vai-catalog/pkg/realtime/media"
	"github.com/vango-go/vai-catalog/pkg/telemetry"
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
)

// Connect steps, in order.
const (
	StepCredentials  = "credentials"
	StepConnection   = "connection"
	StepMicrophone   = "microphone"
	StepEventChannel = "event_channel"
	StepOffer        = "offer"
	StepNegotiation  = "negotiation"
	StepAnswer       = "answer"
)

// ErrAborted reports a Connect that lost to a concurrent Disconnect.
var ErrAborted = errors.New("session: connect aborted by disconnect")

var ErrNotActive = errors.New("session: not active")

// ConnectError names the step at which Connect failed. Everything acquired
// before the failure has been released.
type ConnectError struct {
	Step string
	Err  error
}

func (e *ConnectError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("session: connect failed at %s: %v", e.Step, e.Err)
}

func (e *ConnectError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type CredentialSource interface {
	Acquire(ctx context.Context) (credentials.Credentials, error)
}

type Negotiator interface {
	Exchange(ctx context.Context, token, offerSDP string) (string, error)
}

// Connection is one peer connection to the model.
type Connection interface {
	media.PathAdder
	OnRemoteTrack(func(media.RemoteTrack))
	// OnFailed fires once if the connection drops after it was established.
	OnFailed(func())
	OpenEventTransport() (eventchannel.Transport, error)
	// CreateOffer returns the local offer SDP once candidate gathering is
	// complete.
	CreateOffer(ctx context.Context) (string, error)
	ApplyAnswer(sdp string) error
	Close() error
}

type ConnectionFactory interface {
	NewConnection(ctx context.Context) (Connection, error)
}

type Config struct {
	Credentials CredentialSource
	Connections ConnectionFactory
	Negotiator  Negotiator
	Media       *media.Controller
	Channel     *eventchannel.Channel
	// Sink receives the model's audio. Optional.
	Sink      media.AudioSink
	Logger    *slog.Logger
	Telemetry *telemetry.Manager
	// OnState is called after every state transition, outside the lock.
	OnState func(State)
}

type Manager struct {
	creds      CredentialSource
	factory    ConnectionFactory
	negotiator Negotiator
	media      *media.Controller
	channel    *eventchannel.Channel
	sink       media.AudioSink
	logger     *slog.Logger
	telemetry  *telemetry.Manager
	onState    func(State)

	mu         sync.Mutex
	state      State
	generation uint64
	sessionID  string
	conn       Connection
	binding    *media.Binding
}

func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.Credentials == nil:
		return nil, errors.New("session: credential source is required")
	case cfg.Connections == nil:
		return nil, errors.New("session: connection factory is required")
	case cfg.Negotiator == nil:
		return nil, errors.New("session: negotiator is required")
	case cfg.Media == nil:
		return nil, errors.New("session: media controller is required")
	case cfg.Channel == nil:
		return nil, errors.New("session: event channel is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		creds:      cfg.Credentials,
		factory:    cfg.Connections,
		negotiator: cfg.Negotiator,
		media:      cfg.Media,
		channel:    cfg.Channel,
		sink:       cfg.Sink,
		logger:     logger,
		telemetry:  cfg.Telemetry,
		onState:    cfg.OnState,
		state:      StateIdle,
	}
	m.channel.OnOpen(m.activate)
	return m, nil
}

// Connect establishes a session. It is a no-op unless the manager is Idle.
// On failure every acquired resource is released, the manager is Idle again
// and a *ConnectError is returned. The session becomes Active only when the
// event channel opens.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		m.logger.Debug("connect ignored", "state", m.state)
		return nil
	}
	m.generation++
	gen := m.generation
	m.state = StateConnecting
	m.mu.Unlock()
	m.notify(StateConnecting)

	ctx, span := m.telemetry.StartSpan(ctx, "session.connect")
	start := time.Now()
	step, err := m.connect(ctx, gen)
	var cerr error
	if err != nil {
		cerr = &ConnectError{Step: step, Err: err}
		if !errors.Is(err, ErrAborted) {
			m.teardown(gen)
			m.logger.Error("connect failed", "step", step, "error", err)
		}
	}
	m.telemetry.RecordConnect(ctx, telemetry.ConnectData{Step: step, Duration: time.Since(start), Error: err})
	telemetry.EndSpan(span, cerr)
	return cerr
}

func (m *Manager) connect(ctx context.Context, gen uint64) (string, error) {
	creds, err := m.creds.Acquire(ctx)
	if err != nil {
		return StepCredentials, err
	}
	if !m.adopt(gen, func() { m.sessionID = creds.SessionID }) {
		return StepCredentials, ErrAborted
	}
	m.logger.Info("session credentials acquired", "session_id", creds.SessionID)

	conn, err := m.factory.NewConnection(ctx)
	if err != nil {
		return StepConnection, err
	}
	if !m.adopt(gen, func() { m.conn = conn }) {
		_ = conn.Close()
		return StepConnection, ErrAborted
	}
	if m.sink != nil {
		conn.OnRemoteTrack(m.sink.Consume)
	}
	conn.OnFailed(func() { m.connectionLost(gen) })

	binding, err := m.media.Attach(ctx, conn)
	if err != nil {
		return StepMicrophone, err
	}
	if !m.adopt(gen, func() { m.binding = binding }) {
		m.media.Detach(binding)
		return StepMicrophone, ErrAborted
	}

	transport, err := conn.OpenEventTransport()
	if err != nil {
		return StepEventChannel, err
	}
	if !m.adopt(gen, func() { m.channel.Bind(transport) }) {
		_ = transport.Close()
		return StepEventChannel, ErrAborted
	}

	offer, err := conn.CreateOffer(ctx)
	if err != nil {
		return StepOffer, err
	}
	if !m.current(gen) {
		return StepOffer, ErrAborted
	}
	answer, err := m.negotiator.Exchange(ctx, creds.Token, offer)
	if err != nil {
		return StepNegotiation, err
	}
	if !m.current(gen) {
		return StepNegotiation, ErrAborted
	}
	if err := conn.ApplyAnswer(answer); err != nil {
		return StepAnswer, err
	}
	m.logger.Info("session negotiated, waiting for event channel", "session_id", creds.SessionID)
	return "", nil
}

// adopt runs fn under the lock if gen is still the live attempt.
func (m *Manager) adopt(gen uint64, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen || m.state != StateConnecting {
		return false
	}
	fn()
	return true
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation == gen && m.state != StateIdle
}

func (m *Manager) activate() {
	m.mu.Lock()
	if m.state != StateConnecting || m.conn == nil {
		m.mu.Unlock()
		return
	}
	m.state = StateActive
	id := m.sessionID
	m.mu.Unlock()
	m.logger.Info("session active", "session_id", id)
	m.notify(StateActive)
}

// connectionLost tears the session down when the peer connection fails,
// including an attempt still waiting for its event channel to open.
func (m *Manager) connectionLost(gen uint64) {
	if !m.current(gen) {
		return
	}
	if m.State() == StateConnecting {
		m.logger.Error("connect failed", "step", StepConnection, "error", "peer connection failed before activation")
	} else {
		m.logger.Warn("peer connection lost, tearing down session")
	}
	m.teardown(gen)
}

// Disconnect tears down whatever exists. Safe from any state and repeatable.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()
	m.teardown(gen)
}

// teardown releases the session if gen is still current. A Connect in
// flight observes the bumped generation and releases anything it acquires
// afterwards.
func (m *Manager) teardown(gen uint64) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.generation++
	prev := m.state
	conn := m.conn
	binding := m.binding
	id := m.sessionID
	m.conn = nil
	m.binding = nil
	m.sessionID = ""
	m.state = StateIdle
	m.mu.Unlock()

	if err := m.channel.Close(); err != nil {
		m.logger.Warn("close event channel", "error", err)
	}
	m.media.Detach(binding)
	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Warn("close peer connection", "error", err)
		}
	}
	if prev != StateIdle {
		m.logger.Info("session closed", "session_id", id, "from", string(prev))
		m.notify(StateIdle)
	}
}

// StartRecording unmutes the microphone. Only valid while Active.
func (m *Manager) StartRecording(ctx context.Context) error {
	if m.State() != StateActive {
		return ErrNotActive
	}
	return m.media.StartRecording(ctx)
}

// StopRecording mutes the microphone. Only valid while Active.
func (m *Manager) StopRecording() error {
	if m.State() != StateActive {
		return ErrNotActive
	}
	return m.media.StopRecording()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

type Status struct {
	State     State       `json:"state"`
	SessionID string      `json:"session_id,omitempty"`
	Media     media.State `json:"media"`
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{State: m.state, SessionID: m.sessionID}
	m.mu.Unlock()
	st.Media = m.media.State()
	return st
}

func (m *Manager) notify(s State) {
	if m.onState != nil {
		m.onState(s)
	}
}
