package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

type fakeTrack struct {
	id string

	mu      sync.Mutex
	stopped bool
}

func (t *fakeTrack) ID() string { return t.id }

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

type fakeStream struct {
	tracks []Track
}

func (s *fakeStream) Tracks() []Track { return s.tracks }

func (s *fakeStream) Stop() {
	for _, tr := range s.tracks {
		tr.Stop()
	}
}

type fakeMic struct {
	mu       sync.Mutex
	err      error
	acquired []*fakeTrack
}

func (m *fakeMic) Acquire(context.Context) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	tr := &fakeTrack{id: fmt.Sprintf("mic-%d", len(m.acquired)+1)}
	m.acquired = append(m.acquired, tr)
	return &fakeStream{tracks: []Track{tr}}, nil
}

func (m *fakeMic) last() *fakeTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired[len(m.acquired)-1]
}

type fakeSilence struct {
	err  error
	made []*fakeTrack
}

func (s *fakeSilence) NewSilentTrack() (Track, error) {
	if s.err != nil {
		return nil, s.err
	}
	tr := &fakeTrack{id: fmt.Sprintf("silence-%d", len(s.made)+1)}
	s.made = append(s.made, tr)
	return tr, nil
}

type fakeSender struct {
	current Track
	err     error
}

func (s *fakeSender) ReplaceTrack(t Track) error {
	if s.err != nil {
		return s.err
	}
	s.current = t
	return nil
}

type fakePath struct {
	senders []*fakeSender
	adds    int
}

func (p *fakePath) AddTrack(t Track) (Sender, error) {
	p.adds++
	s := &fakeSender{current: t}
	p.senders = append(p.senders, s)
	return s, nil
}

func newTestController() (*Controller, *fakeMic, *fakeSilence) {
	mic := &fakeMic{}
	silence := &fakeSilence{}
	return NewController(mic, silence, nil), mic, silence
}

func TestMuteUnmute_KeepsSendersAndSwapsSources(t *testing.T) {
	c, mic, silence := newTestController()
	path := &fakePath{}
	if _, err := c.Attach(context.Background(), path); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	before := c.Senders()
	if len(before) != 1 {
		t.Fatalf("senders=%d, want 1", len(before))
	}
	firstMic := mic.last()

	if err := c.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if !firstMic.isStopped() {
		t.Fatalf("live microphone still running after mute")
	}
	if st := c.State(); !st.Muted || st.Source != SourcePlaceholder {
		t.Fatalf("state=%+v", st)
	}
	if got := path.senders[0].current; got != Track(silence.made[0]) {
		t.Fatalf("sender source=%v, want placeholder", got)
	}

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if !silence.made[0].isStopped() {
		t.Fatalf("superseded placeholder still running")
	}
	if got := path.senders[0].current; got != Track(mic.last()) {
		t.Fatalf("sender source=%v, want new microphone", got)
	}
	if st := c.State(); st.Muted || st.Source != SourceMicrophone {
		t.Fatalf("state=%+v", st)
	}

	after := c.Senders()
	if len(after) != len(before) || after[0] != before[0] {
		t.Fatalf("senders changed across mute/unmute")
	}
	if path.adds != 1 {
		t.Fatalf("AddTrack called %d times, want 1", path.adds)
	}
}

func TestStopRecording_TwiceStopsPreviousPlaceholder(t *testing.T) {
	c, _, silence := newTestController()
	if _, err := c.Attach(context.Background(), &fakePath{}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	_ = c.StopRecording()
	_ = c.StopRecording()
	if len(silence.made) != 2 {
		t.Fatalf("placeholders=%d, want 2", len(silence.made))
	}
	if !silence.made[0].isStopped() || silence.made[1].isStopped() {
		t.Fatalf("placeholder lifecycle wrong: first=%v second=%v", silence.made[0].isStopped(), silence.made[1].isStopped())
	}
}

func TestStartRecording_AddsPathsWhenNoSenders(t *testing.T) {
	c, _, _ := newTestController()
	path := &fakePath{}
	b, err := c.Attach(context.Background(), path)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	c.mu.Lock()
	b.senders = nil
	c.mu.Unlock()

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if path.adds != 2 || len(c.Senders()) != 1 {
		t.Fatalf("adds=%d senders=%d", path.adds, len(c.Senders()))
	}
}

func TestRecordingRequiresBinding(t *testing.T) {
	c, _, _ := newTestController()
	if err := c.StartRecording(context.Background()); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("StartRecording err=%v, want ErrNotAttached", err)
	}
	if err := c.StopRecording(); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("StopRecording err=%v, want ErrNotAttached", err)
	}
}

func TestAttach_MicrophoneFailure(t *testing.T) {
	c, mic, _ := newTestController()
	mic.err = errors.New("permission denied")
	path := &fakePath{}
	if _, err := c.Attach(context.Background(), path); err == nil {
		t.Fatalf("expected error")
	}
	if path.adds != 0 || c.State().Attached {
		t.Fatalf("partial binding left behind: adds=%d state=%+v", path.adds, c.State())
	}
}

func TestDetach_ReleasesOnlyThatBinding(t *testing.T) {
	c, mic, _ := newTestController()
	stale, err := c.Attach(context.Background(), &fakePath{})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	staleMic := mic.last()
	current, err := c.Attach(context.Background(), &fakePath{})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if !staleMic.isStopped() {
		t.Fatalf("replaced binding kept its microphone")
	}

	c.Detach(stale)
	if !c.State().Attached {
		t.Fatalf("detaching a stale binding cleared the current one")
	}
	c.Detach(current)
	if c.State().Attached || !mic.last().isStopped() {
		t.Fatalf("current binding not released")
	}
	c.Release()
}

// attachWithBrokenSender attaches normally, then adds a second sender whose
// ReplaceTrack always fails.
func attachWithBrokenSender(t *testing.T, c *Controller) (*fakeSender, *fakeSender) {
	t.Helper()
	path := &fakePath{}
	b, err := c.Attach(context.Background(), path)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	broken := &fakeSender{err: errors.New("sender gone")}
	c.mu.Lock()
	b.senders = append(b.senders, broken)
	c.mu.Unlock()
	return path.senders[0], broken
}

func TestStopRecording_PlaceholderFailureKeepsMicrophone(t *testing.T) {
	c, mic, silence := newTestController()
	path := &fakePath{}
	if _, err := c.Attach(context.Background(), path); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	silence.err = errors.New("no encoder")

	if err := c.StopRecording(); err == nil {
		t.Fatalf("expected error")
	}
	if mic.last().isStopped() {
		t.Fatalf("microphone stopped although no placeholder replaced it")
	}
	if st := c.State(); st.Muted || st.Source != SourceMicrophone {
		t.Fatalf("state=%+v, want unmuted microphone", st)
	}
	if got := path.senders[0].current; got != Track(mic.last()) {
		t.Fatalf("sender source=%v, want microphone", got)
	}
}

func TestStopRecording_PartialReplaceRollsBack(t *testing.T) {
	c, mic, silence := newTestController()
	good, _ := attachWithBrokenSender(t, c)

	if err := c.StopRecording(); err == nil {
		t.Fatalf("expected error")
	}
	if got := good.current; got != Track(mic.last()) {
		t.Fatalf("switched sender left on %v, want microphone", got)
	}
	if !silence.made[0].isStopped() {
		t.Fatalf("unused placeholder left running")
	}
	if mic.last().isStopped() || c.State().Muted {
		t.Fatalf("failed mute changed the live source: state=%+v", c.State())
	}
}

func TestStartRecording_PartialReplaceRollsBack(t *testing.T) {
	c, mic, silence := newTestController()
	good, broken := attachWithBrokenSender(t, c)

	broken.err = nil
	if err := c.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	broken.err = errors.New("sender gone")

	if err := c.StartRecording(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if got := good.current; got != Track(silence.made[0]) {
		t.Fatalf("switched sender left on %v, want placeholder", got)
	}
	if !mic.last().isStopped() {
		t.Fatalf("unused microphone stream left running")
	}
	if silence.made[0].isStopped() {
		t.Fatalf("placeholder stopped although it still feeds the senders")
	}
	if st := c.State(); !st.Muted || st.Source != SourcePlaceholder {
		t.Fatalf("state=%+v, want muted placeholder", st)
	}
}
