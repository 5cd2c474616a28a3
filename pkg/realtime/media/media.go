// Package media owns the outbound audio binding of a realtime session: the
// senders on the peer connection and the source currently feeding them.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	ErrNotAttached = errors.New("media: no active binding")
	ErrNoTracks    = errors.New("media: microphone stream has no tracks")
)

// Track is an outbound audio source. Stop is idempotent.
type Track interface {
	ID() string
	Stop()
}

// Stream is a live microphone capture. Stopping it turns the capture off.
type Stream interface {
	Tracks() []Track
	Stop()
}

type Microphone interface {
	Acquire(ctx context.Context) (Stream, error)
}

// SilenceSource produces indefinite silent placeholder tracks.
type SilenceSource interface {
	NewSilentTrack() (Track, error)
}

// Sender is one outbound media path. Replacing its track does not
// renegotiate the connection.
type Sender interface {
	ReplaceTrack(Track) error
}

// PathAdder adds outbound media paths to a connection.
type PathAdder interface {
	AddTrack(Track) (Sender, error)
}

// Source names what currently feeds the senders.
type Source string

const (
	SourceNone        Source = "none"
	SourceMicrophone  Source = "microphone"
	SourcePlaceholder Source = "placeholder"
)

// Binding is the outbound path state for one session.
type Binding struct {
	path        PathAdder
	senders     []Sender
	stream      Stream
	placeholder Track
	muted       bool
	released    bool
}

func (b *Binding) source() Source {
	switch {
	case b.stream != nil:
		return SourceMicrophone
	case b.placeholder != nil:
		return SourcePlaceholder
	default:
		return SourceNone
	}
}

func (b *Binding) release() {
	if b.released {
		return
	}
	b.released = true
	if b.stream != nil {
		b.stream.Stop()
		b.stream = nil
	}
	if b.placeholder != nil {
		b.placeholder.Stop()
		b.placeholder = nil
	}
	b.senders = nil
}

type Controller struct {
	mic     Microphone
	silence SilenceSource
	logger  *slog.Logger

	mu      sync.Mutex
	binding *Binding
}

func NewController(mic Microphone, silence SilenceSource, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{mic: mic, silence: silence, logger: logger}
}

// Attach acquires the microphone and adds one outbound path per track. The
// new binding becomes current; a previous binding is released.
func (c *Controller) Attach(ctx context.Context, path PathAdder) (*Binding, error) {
	if c == nil || c.mic == nil {
		return nil, errors.New("media: no microphone configured")
	}
	if path == nil {
		return nil, errors.New("media: no connection to attach to")
	}
	stream, err := c.mic.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire microphone: %w", err)
	}
	tracks := stream.Tracks()
	if len(tracks) == 0 {
		stream.Stop()
		return nil, ErrNoTracks
	}
	b := &Binding{path: path, stream: stream}
	for _, tr := range tracks {
		sender, err := path.AddTrack(tr)
		if err != nil {
			stream.Stop()
			return nil, fmt.Errorf("add track %s: %w", tr.ID(), err)
		}
		b.senders = append(b.senders, sender)
	}

	c.mu.Lock()
	prev := c.binding
	c.binding = b
	c.mu.Unlock()
	if prev != nil && prev != b {
		prev.release()
	}
	c.logger.Debug("microphone attached", "tracks", len(tracks))
	return b, nil
}

// Detach releases b. The current binding is cleared only when it is b.
func (c *Controller) Detach(b *Binding) {
	if c == nil || b == nil {
		return
	}
	c.mu.Lock()
	if c.binding == b {
		c.binding = nil
	}
	b.release()
	c.mu.Unlock()
}

// Release drops whatever binding is current.
func (c *Controller) Release() {
	if c == nil {
		return
	}
	c.mu.Lock()
	b := c.binding
	c.binding = nil
	if b != nil {
		b.release()
	}
	c.mu.Unlock()
}

// StartRecording feeds a fresh microphone stream into the existing senders.
// With no recorded senders it adds new outbound paths instead.
func (c *Controller) StartRecording(ctx context.Context) error {
	if c == nil || c.mic == nil {
		return ErrNotAttached
	}
	c.mu.Lock()
	b := c.binding
	c.mu.Unlock()
	if b == nil {
		return ErrNotAttached
	}

	stream, err := c.mic.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire microphone: %w", err)
	}
	tracks := stream.Tracks()
	if len(tracks) == 0 {
		stream.Stop()
		return ErrNoTracks
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.binding != b || b.released {
		// Session went away while the microphone was being acquired.
		stream.Stop()
		return ErrNotAttached
	}

	if len(b.senders) > 0 {
		if err := b.switchSenders(tracks[0]); err != nil {
			stream.Stop()
			return err
		}
	} else {
		added := make([]Sender, 0, len(tracks))
		for _, tr := range tracks {
			sender, err := b.path.AddTrack(tr)
			if err != nil {
				stream.Stop()
				return fmt.Errorf("add track %s: %w", tr.ID(), err)
			}
			added = append(added, sender)
		}
		b.senders = added
	}

	if b.stream != nil {
		b.stream.Stop()
	}
	if b.placeholder != nil {
		b.placeholder.Stop()
		b.placeholder = nil
	}
	b.stream = stream
	b.muted = false
	c.logger.Info("microphone started")
	return nil
}

// StopRecording stops the live stream and feeds every sender a new silent
// placeholder.
func (c *Controller) StopRecording() error {
	if c == nil {
		return ErrNotAttached
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.binding
	if b == nil || b.released {
		return ErrNotAttached
	}

	if len(b.senders) == 0 || c.silence == nil {
		b.stopStream()
		b.muted = true
		c.logger.Info("microphone stopped", "placeholder", false)
		return nil
	}

	// The placeholder is in place on every sender before the live stream
	// stops, so a failure leaves the binding unmuted and unchanged.
	placeholder, err := c.silence.NewSilentTrack()
	if err != nil {
		return fmt.Errorf("create placeholder track: %w", err)
	}
	if err := b.switchSenders(placeholder); err != nil {
		placeholder.Stop()
		return err
	}
	b.stopStream()
	if b.placeholder != nil {
		b.placeholder.Stop()
	}
	b.placeholder = placeholder
	b.muted = true
	c.logger.Info("microphone stopped", "placeholder", true)
	return nil
}

// current is the track the senders are fed from, if any.
func (b *Binding) current() Track {
	if b.stream != nil {
		if tracks := b.stream.Tracks(); len(tracks) > 0 {
			return tracks[0]
		}
	}
	return b.placeholder
}

// switchSenders points every sender at t. When one fails, the senders
// already switched go back to the previous source.
func (b *Binding) switchSenders(t Track) error {
	prev := b.current()
	for i, s := range b.senders {
		if err := s.ReplaceTrack(t); err != nil {
			if prev != nil {
				for _, done := range b.senders[:i] {
					_ = done.ReplaceTrack(prev)
				}
			}
			return fmt.Errorf("replace track: %w", err)
		}
	}
	return nil
}

func (b *Binding) stopStream() {
	if b.stream != nil {
		b.stream.Stop()
		b.stream = nil
	}
}

// State is a snapshot of the current binding.
type State struct {
	Attached bool   `json:"attached"`
	Muted    bool   `json:"muted"`
	Source   Source `json:"source"`
	Senders  int    `json:"senders"`
}

func (c *Controller) State() State {
	if c == nil {
		return State{Source: SourceNone}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.binding
	if b == nil {
		return State{Source: SourceNone}
	}
	return State{Attached: true, Muted: b.muted, Source: b.source(), Senders: len(b.senders)}
}

// Senders returns the current outbound paths.
func (c *Controller) Senders() []Sender {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.binding == nil {
		return nil
	}
	out := make([]Sender, len(c.binding.senders))
	copy(out, c.binding.senders)
	return out
}
