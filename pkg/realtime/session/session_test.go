package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/vango-go/vai-catalog/pkg/realtime/credentials"
	"github.com/vango-go/vai-catalog/pkg/realtime/eventchannel"
	"github.com/vango-go/vai-catalog/pkg/realtime/media"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeCreds struct {
	calls int
	err   error
}

func (c *fakeCreds) Acquire(context.Context) (credentials.Credentials, error) {
	c.calls++
	if c.err != nil {
		return credentials.Credentials{}, c.err
	}
	return credentials.Credentials{SessionID: "sess_1", Token: "ek_1"}, nil
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   []string
	closed bool
	onOpen func()
}

func (t *fakeTransport) SendText(s string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, s)
	return nil
}
func (t *fakeTransport) OnOpen(fn func())       { t.onOpen = fn }
func (t *fakeTransport) OnMessage(func([]byte)) {}
func (t *fakeTransport) OnClose(func())         {}
func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// gate parks a fake at one connect step until the test releases it.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) wait() {
	if g == nil {
		return
	}
	close(g.entered)
	<-g.release
}

type fakeSender struct{}

func (fakeSender) ReplaceTrack(media.Track) error { return nil }

type fakeConn struct {
	mu        sync.Mutex
	transport *fakeTransport
	tracks    int
	offerErr  error
	answer    string
	closed    int
	onFailed  func()
	openGate  *gate
}

func (c *fakeConn) AddTrack(media.Track) (media.Sender, error) {
	c.mu.Lock()
	c.tracks++
	c.mu.Unlock()
	return fakeSender{}, nil
}
func (c *fakeConn) OnRemoteTrack(func(media.RemoteTrack)) {}
func (c *fakeConn) OnFailed(fn func())                     { c.onFailed = fn }
func (c *fakeConn) OpenEventTransport() (eventchannel.Transport, error) {
	c.openGate.wait()
	return c.transport, nil
}
func (c *fakeConn) CreateOffer(context.Context) (string, error) {
	if c.offerErr != nil {
		return "", c.offerErr
	}
	return "v=0 offer", nil
}
func (c *fakeConn) ApplyAnswer(sdp string) error {
	c.mu.Lock()
	c.answer = sdp
	c.mu.Unlock()
	return nil
}
func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeFactory struct {
	conn  *fakeConn
	calls int
	gate  *gate
}

func (f *fakeFactory) NewConnection(context.Context) (Connection, error) {
	f.gate.wait()
	f.calls++
	return f.conn, nil
}

type fakeNegotiator struct {
	entered chan struct{}
	release chan struct{}
	err     error
}

func (n *fakeNegotiator) Exchange(_ context.Context, token, offer string) (string, error) {
	if n.entered != nil {
		close(n.entered)
		<-n.release
	}
	if n.err != nil {
		return "", n.err
	}
	if token != "ek_1" || offer != "v=0 offer" {
		return "", errors.New("unexpected exchange input")
	}
	return "v=0 answer", nil
}

type fakeTrack struct {
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTrack) ID() string { return "mic" }
func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}
func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeStream struct{ track *fakeTrack }

func (s *fakeStream) Tracks() []media.Track { return []media.Track{s.track} }
func (s *fakeStream) Stop()                 { s.track.Stop() }

type fakeMic struct {
	err     error
	streams []*fakeStream
	gate    *gate
}

func (m *fakeMic) Acquire(context.Context) (media.Stream, error) {
	m.gate.wait()
	if m.err != nil {
		return nil, m.err
	}
	s := &fakeStream{track: &fakeTrack{}}
	m.streams = append(m.streams, s)
	return s, nil
}

type harness struct {
	manager *Manager
	creds   *fakeCreds
	factory *fakeFactory
	conn    *fakeConn
	neg     *fakeNegotiator
	mic     *fakeMic
	channel *eventchannel.Channel
	states  []State
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		creds: &fakeCreds{},
		conn:  &fakeConn{transport: &fakeTransport{}},
		neg:   &fakeNegotiator{},
		mic:   &fakeMic{},
	}
	h.factory = &fakeFactory{conn: h.conn}
	h.channel = eventchannel.New(eventchannel.Config{Logger: discard})
	var mu sync.Mutex
	m, err := NewManager(Config{
		Credentials: h.creds,
		Connections: h.factory,
		Negotiator:  h.neg,
		Media:       media.NewController(h.mic, nil, discard),
		Channel:     h.channel,
		Logger:      discard,
		OnState: func(s State) {
			mu.Lock()
			h.states = append(h.states, s)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	h.manager = m
	return h
}

func TestConnect_ActivatesWhenChannelOpens(t *testing.T) {
	h := newHarness(t)
	if err := h.manager.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := h.manager.State(); got != StateConnecting {
		t.Fatalf("state=%s, want connecting before open", got)
	}
	if h.conn.answer != "v=0 answer" {
		t.Fatalf("answer=%q", h.conn.answer)
	}

	h.conn.transport.onOpen()

	st := h.manager.Status()
	if st.State != StateActive || st.SessionID != "sess_1" {
		t.Fatalf("status=%+v", st)
	}
	if !st.Media.Attached || st.Media.Muted || st.Media.Source != media.SourceMicrophone {
		t.Fatalf("media=%+v", st.Media)
	}
	if len(h.conn.transport.sent) != 1 || !strings.Contains(h.conn.transport.sent[0], `"session.update"`) {
		t.Fatalf("sent=%v, want one session.update", h.conn.transport.sent)
	}
	want := []State{StateConnecting, StateActive}
	if len(h.states) != len(want) || h.states[0] != want[0] || h.states[1] != want[1] {
		t.Fatalf("states=%v, want %v", h.states, want)
	}
}

func TestConnect_IgnoredUnlessIdle(t *testing.T) {
	h := newHarness(t)
	if err := h.manager.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := h.manager.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	h.conn.transport.onOpen()
	if err := h.manager.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() while active error = %v", err)
	}
	if h.creds.calls != 1 || h.factory.calls != 1 {
		t.Fatalf("creds=%d connections=%d, want 1 each", h.creds.calls, h.factory.calls)
	}
	h.manager.Disconnect()
}

func TestConnect_CredentialFailureCreatesNothing(t *testing.T) {
	h := newHarness(t)
	h.creds.err = errors.New("token endpoint down")

	err := h.manager.Connect(context.Background())
	var cerr *ConnectError
	if !errors.As(err, &cerr) || cerr.Step != StepCredentials {
		t.Fatalf("err=%v, want ConnectError at credentials", err)
	}
	if h.factory.calls != 0 || len(h.mic.streams) != 0 {
		t.Fatalf("resources created after credential failure")
	}
	if h.manager.State() != StateIdle {
		t.Fatalf("state=%s, want idle", h.manager.State())
	}
}

func TestConnect_MicrophoneFailureReleasesConnection(t *testing.T) {
	h := newHarness(t)
	h.mic.err = errors.New("permission denied")

	err := h.manager.Connect(context.Background())
	var cerr *ConnectError
	if !errors.As(err, &cerr) || cerr.Step != StepMicrophone {
		t.Fatalf("err=%v, want ConnectError at microphone", err)
	}
	if !errors.Is(err, h.mic.err) {
		t.Fatalf("err=%v does not wrap the microphone error", err)
	}
	if h.conn.closeCount() != 1 {
		t.Fatalf("connection closed %d times, want 1", h.conn.closeCount())
	}
	if h.manager.State() != StateIdle {
		t.Fatalf("state=%s, want idle", h.manager.State())
	}
	if h.manager.Status().SessionID != "" {
		t.Fatalf("session id retained after failure")
	}
}

func TestConnect_NegotiationFailureReleasesEverything(t *testing.T) {
	h := newHarness(t)
	h.neg.err = errors.New("401")

	err := h.manager.Connect(context.Background())
	var cerr *ConnectError
	if !errors.As(err, &cerr) || cerr.Step != StepNegotiation {
		t.Fatalf("err=%v, want ConnectError at negotiation", err)
	}
	if !h.conn.transport.isClosed() {
		t.Fatalf("event transport left open")
	}
	if !h.mic.streams[0].track.isStopped() {
		t.Fatalf("microphone left running")
	}
	if h.conn.closeCount() != 1 {
		t.Fatalf("connection closed %d times, want 1", h.conn.closeCount())
	}
	if h.manager.Status().Media.Attached {
		t.Fatalf("media binding retained")
	}
}

func TestDisconnect_DuringConnectAbortsAttempt(t *testing.T) {
	h := newHarness(t)
	h.neg.entered = make(chan struct{})
	h.neg.release = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.manager.Connect(context.Background()) }()

	<-h.neg.entered
	h.manager.Disconnect()
	close(h.neg.release)
	err := <-done

	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err=%v, want ErrAborted", err)
	}
	if h.manager.State() != StateIdle {
		t.Fatalf("state=%s, want idle", h.manager.State())
	}
	if h.conn.answer != "" {
		t.Fatalf("answer applied after disconnect")
	}
	if h.conn.closeCount() != 1 || !h.conn.transport.isClosed() || !h.mic.streams[0].track.isStopped() {
		t.Fatalf("resources not released: closes=%d transport=%v mic=%v",
			h.conn.closeCount(), h.conn.transport.isClosed(), h.mic.streams[0].track.isStopped())
	}

	// A late open from the abandoned channel must not revive the session.
	h.conn.transport.onOpen()
	if h.manager.State() != StateIdle {
		t.Fatalf("stale open activated session")
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.manager.Disconnect()
	if len(h.states) != 0 {
		t.Fatalf("disconnect from idle notified %v", h.states)
	}

	if err := h.manager.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.conn.transport.onOpen()
	h.manager.Disconnect()
	h.manager.Disconnect()

	if h.conn.closeCount() != 1 {
		t.Fatalf("connection closed %d times, want 1", h.conn.closeCount())
	}
	if h.channel.IsOpen() {
		t.Fatalf("channel still open")
	}
	if got := h.states[len(h.states)-1]; got != StateIdle {
		t.Fatalf("last state=%s, want idle", got)
	}
}

func TestReconnectAfterDisconnect(t *testing.T) {
	h := newHarness(t)
	if err := h.manager.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.manager.Disconnect()

	h.conn.transport = &fakeTransport{}
	if err := h.manager.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	h.conn.transport.onOpen()
	if h.manager.State() != StateActive {
		t.Fatalf("state=%s, want active", h.manager.State())
	}
	h.manager.Disconnect()
}

func TestConnectionFailureTearsDown(t *testing.T) {
	h := newHarness(t)
	if err := h.manager.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.conn.transport.onOpen()
	h.conn.onFailed()
	if h.manager.State() != StateIdle {
		t.Fatalf("state=%s, want idle after connection failure", h.manager.State())
	}
	if h.conn.closeCount() != 1 {
		t.Fatalf("connection closed %d times, want 1", h.conn.closeCount())
	}
}

func TestRecordingRequiresActiveSession(t *testing.T) {
	h := newHarness(t)
	if err := h.manager.StartRecording(context.Background()); !errors.Is(err, ErrNotActive) {
		t.Fatalf("StartRecording() err=%v, want ErrNotActive", err)
	}
	if err := h.manager.StopRecording(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("StopRecording() err=%v, want ErrNotActive", err)
	}

	if err := h.manager.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.conn.transport.onOpen()
	if err := h.manager.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if !h.manager.Status().Media.Muted {
		t.Fatalf("media not muted after stop")
	}
	if err := h.manager.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if h.manager.Status().Media.Muted {
		t.Fatalf("media still muted after start")
	}
	h.manager.Disconnect()
}

func TestNewManager_RequiresCollaborators(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestConnectionFailureBeforeOpenReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	if err := h.manager.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if h.conn.answer != "v=0 answer" || h.manager.State() != StateConnecting {
		t.Fatalf("answer=%q state=%s, want applied answer while connecting", h.conn.answer, h.manager.State())
	}

	h.conn.onFailed()

	if h.manager.State() != StateIdle {
		t.Fatalf("state=%s, want idle after failure before open", h.manager.State())
	}
	if h.conn.closeCount() != 1 || !h.conn.transport.isClosed() || !h.mic.streams[0].track.isStopped() {
		t.Fatalf("resources not released: closes=%d transport=%v mic=%v",
			h.conn.closeCount(), h.conn.transport.isClosed(), h.mic.streams[0].track.isStopped())
	}
	if got := h.states[len(h.states)-1]; got != StateIdle {
		t.Fatalf("last state=%s, want idle", got)
	}

	// The failed attempt must not block a retry.
	h.conn.transport = &fakeTransport{}
	if err := h.manager.Connect(context.Background()); err != nil {
		t.Fatalf("retry Connect() error = %v", err)
	}
	if h.creds.calls != 2 {
		t.Fatalf("credentials acquired %d times, want 2", h.creds.calls)
	}
	h.conn.transport.onOpen()
	if h.manager.State() != StateActive {
		t.Fatalf("state=%s, want active after retry", h.manager.State())
	}
	h.manager.Disconnect()
}

// disconnectAt runs Connect until g parks it, disconnects, then lets the
// step finish.
func disconnectAt(t *testing.T, h *harness, g *gate) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.manager.Connect(context.Background()) }()
	<-g.entered
	h.manager.Disconnect()
	close(g.release)
	err := <-done
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err=%v, want ErrAborted", err)
	}
	if h.manager.State() != StateIdle {
		t.Fatalf("state=%s, want idle", h.manager.State())
	}
	return err
}

func TestDisconnect_DuringConnectionCreateClosesLateConnection(t *testing.T) {
	h := newHarness(t)
	h.factory.gate = newGate()

	err := disconnectAt(t, h, h.factory.gate)

	var cerr *ConnectError
	if !errors.As(err, &cerr) || cerr.Step != StepConnection {
		t.Fatalf("err=%v, want abort at connection", err)
	}
	if h.conn.closeCount() != 1 {
		t.Fatalf("late connection closed %d times, want 1", h.conn.closeCount())
	}
	if len(h.mic.streams) != 0 {
		t.Fatalf("microphone acquired after abort")
	}
}

func TestDisconnect_DuringMicrophoneAcquireStopsLateStream(t *testing.T) {
	h := newHarness(t)
	h.mic.gate = newGate()

	err := disconnectAt(t, h, h.mic.gate)

	var cerr *ConnectError
	if !errors.As(err, &cerr) || cerr.Step != StepMicrophone {
		t.Fatalf("err=%v, want abort at microphone", err)
	}
	if len(h.mic.streams) != 1 {
		t.Fatalf("streams=%d, want 1", len(h.mic.streams))
	}
	if !h.mic.streams[0].track.isStopped() {
		t.Fatalf("microphone acquired after disconnect is still running")
	}
	if h.manager.Status().Media.Attached {
		t.Fatalf("late binding became current")
	}
	if h.conn.closeCount() != 1 {
		t.Fatalf("connection closed %d times, want 1", h.conn.closeCount())
	}
}

func TestDisconnect_DuringEventChannelOpenClosesLateTransport(t *testing.T) {
	h := newHarness(t)
	h.conn.openGate = newGate()

	err := disconnectAt(t, h, h.conn.openGate)

	var cerr *ConnectError
	if !errors.As(err, &cerr) || cerr.Step != StepEventChannel {
		t.Fatalf("err=%v, want abort at event channel", err)
	}
	if !h.conn.transport.isClosed() {
		t.Fatalf("transport opened after disconnect is still open")
	}
	if h.channel.IsOpen() {
		t.Fatalf("channel bound after disconnect")
	}
	if !h.mic.streams[0].track.isStopped() || h.conn.closeCount() != 1 {
		t.Fatalf("earlier resources not released")
	}
}
