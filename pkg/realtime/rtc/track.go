package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/vango-go/vai-catalog/pkg/realtime/media"
)

const (
	frameDuration = 20 * time.Millisecond
	opusClockRate = 48000
)

// opusSilence is one 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var opusCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: opusClockRate,
	Channels:  2,
}

type frameSource interface {
	Next() ([]byte, time.Duration, error)
	Close() error
}

type silentFrames struct{}

func (silentFrames) Next() ([]byte, time.Duration, error) { return opusSilence, frameDuration, nil }
func (silentFrames) Close() error                         { return nil }

// SampleTrack is an outbound Opus track paced by a pump goroutine.
type SampleTrack struct {
	id     string
	local  *webrtc.TrackLocalStaticSample
	logger *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newSampleTrack(kind string, src frameSource, logger *slog.Logger) (*SampleTrack, error) {
	id := kind + "-" + uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticSample(opusCapability, "audio", id)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("rtc: new %s track: %w", kind, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &SampleTrack{
		id:     id,
		local:  local,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.pump(src)
	return t, nil
}

func (t *SampleTrack) ID() string               { return t.id }
func (t *SampleTrack) Local() webrtc.TrackLocal { return t.local }

// Stop ends the pump and waits for it. Idempotent.
func (t *SampleTrack) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

func (t *SampleTrack) pump(src frameSource) {
	defer close(t.done)
	defer func() { _ = src.Close() }()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-timer.C:
		}
		data, d, err := src.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Warn("audio source failed, sending silence", "track", t.id, "error", err)
			}
			_ = src.Close()
			src = silentFrames{}
			timer.Reset(0)
			continue
		}
		if err := t.local.WriteSample(pionmedia.Sample{Data: data, Duration: d}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			t.logger.Debug("write sample", "track", t.id, "error", err)
		}
		timer.Reset(d)
	}
}

// Silence creates silent placeholder tracks.
type Silence struct {
	Logger *slog.Logger
}

func (s Silence) NewSilentTrack() (media.Track, error) {
	return newSampleTrack("silence", silentFrames{}, s.Logger)
}

type stream struct {
	tracks []media.Track
}

func (s *stream) Tracks() []media.Track { return s.tracks }

func (s *stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// SilentMicrophone is a capture device that only ever produces silence.
type SilentMicrophone struct {
	Logger *slog.Logger
}

func (m SilentMicrophone) Acquire(_ context.Context) (media.Stream, error) {
	t, err := newSampleTrack("mic", silentFrames{}, m.Logger)
	if err != nil {
		return nil, err
	}
	return &stream{tracks: []media.Track{t}}, nil
}

// FileMicrophone plays an Ogg/Opus file as the captured audio, then falls
// silent. Every Acquire starts from the beginning of the file.
type FileMicrophone struct {
	Path   string
	Logger *slog.Logger
}

func (m FileMicrophone) Acquire(_ context.Context) (media.Stream, error) {
	src, err := openOggFrames(m.Path)
	if err != nil {
		return nil, err
	}
	t, err := newSampleTrack("mic", src, m.Logger)
	if err != nil {
		return nil, err
	}
	return &stream{tracks: []media.Track{t}}, nil
}

type oggFrames struct {
	file    *os.File
	reader  *oggreader.OggReader
	granule uint64
}

func openOggFrames(path string) (*oggFrames, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rtc: open audio file: %w", err)
	}
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("rtc: read ogg header: %w", err)
	}
	return &oggFrames{file: f, reader: r}, nil
}

// Next returns the next page that carries audio. Pages without samples,
// such as the comment header, are skipped.
func (o *oggFrames) Next() ([]byte, time.Duration, error) {
	for {
		data, header, err := o.reader.ParseNextPage()
		if err != nil {
			return nil, 0, err
		}
		if header.GranulePosition <= o.granule {
			continue
		}
		samples := header.GranulePosition - o.granule
		o.granule = header.GranulePosition
		return data, time.Duration(samples) * time.Second / opusClockRate, nil
	}
}

func (o *oggFrames) Close() error {
	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	o.file = nil
	return err
}
