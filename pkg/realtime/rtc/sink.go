package rtc

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/vango-go/vai-catalog/pkg/realtime/media"
)

// DiscardSink reads and drops inbound audio.
type DiscardSink struct {
	Logger *slog.Logger
	wg     sync.WaitGroup
}

func (s *DiscardSink) Consume(tr media.RemoteTrack) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		drain(tr)
	}()
}

// Wait blocks until every consumed track has ended.
func (s *DiscardSink) Wait() { s.wg.Wait() }

func drain(tr media.RemoteTrack) int {
	n := 0
	for {
		if _, err := tr.ReadRTP(); err != nil {
			return n
		}
		n++
	}
}

// OggRecorder writes every inbound Opus track to its own file under Dir.
type OggRecorder struct {
	Dir    string
	Logger *slog.Logger
	Now    func() time.Time

	wg sync.WaitGroup
}

func (r *OggRecorder) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *OggRecorder) Consume(tr media.RemoteTrack) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if !strings.EqualFold(tr.MimeType(), webrtc.MimeTypeOpus) {
			r.logger().Warn("not recording non-opus track", "track", tr.ID(), "codec", tr.MimeType())
			drain(tr)
			return
		}
		path, err := r.record(tr)
		if err != nil {
			r.logger().Error("record remote audio", "track", tr.ID(), "error", err)
			drain(tr)
			return
		}
		r.logger().Info("remote audio saved", "path", path)
	}()
}

// Wait blocks until every consumed track has ended and its file is closed.
func (r *OggRecorder) Wait() { r.wg.Wait() }

func (r *OggRecorder) record(tr media.RemoteTrack) (string, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create recording dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.ogg", now().UTC().Format("20060102T150405"), sanitizeName(tr.ID()))
	path := filepath.Join(r.Dir, name)
	w, err := oggwriter.New(path, opusClockRate, 2)
	if err != nil {
		return "", fmt.Errorf("open ogg writer: %w", err)
	}
	for {
		pkt, err := tr.ReadRTP()
		if err != nil {
			break
		}
		if err := w.WriteRTP(pkt); err != nil {
			_ = w.Close()
			return path, fmt.Errorf("write rtp: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return path, fmt.Errorf("close ogg writer: %w", err)
	}
	return path, nil
}

func sanitizeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "track"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
