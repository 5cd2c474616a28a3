// Package rtc backs the session's connection, media and audio-sink
// abstractions with pion/webrtc.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/vango-go/vai-catalog/pkg/realtime/eventchannel"
	"github.com/vango-go/vai-catalog/pkg/realtime/media"
	"github.com/vango-go/vai-catalog/pkg/realtime/session"
)

// EventChannelLabel is the data channel the realtime endpoint exchanges JSON
// events on.
const EventChannelLabel = "oai-events"

type Config struct {
	// ICEServers are STUN/TURN URLs. Empty means host candidates only.
	ICEServers []string
	Logger     *slog.Logger
}

// Factory creates peer connections with Opus registered.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger *slog.Logger
}

func NewFactory(cfg Config) (*Factory, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("rtc: register codecs: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var pcc webrtc.Configuration
	for _, u := range cfg.ICEServers {
		if u = strings.TrimSpace(u); u != "" {
			pcc.ICEServers = append(pcc.ICEServers, webrtc.ICEServer{URLs: []string{u}})
		}
	}
	return &Factory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(me)),
		config: pcc,
		logger: logger,
	}, nil
}

func (f *Factory) NewConnection(_ context.Context) (session.Connection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("rtc: new peer connection: %w", err)
	}
	c := &Connection{pc: pc, logger: f.logger}
	pc.OnConnectionStateChange(c.stateChanged)
	return c, nil
}

// Connection adapts a pion PeerConnection.
type Connection struct {
	pc     *webrtc.PeerConnection
	logger *slog.Logger

	mu          sync.Mutex
	onFailed    func()
	established bool
	failed      bool
	closing     bool
}

// stateChanged reports a failed or externally closed peer connection once,
// whether or not it ever reached Connected.
func (c *Connection) stateChanged(s webrtc.PeerConnectionState) {
	c.logger.Debug("peer connection state", "state", s.String())
	c.mu.Lock()
	var fire func()
	switch s {
	case webrtc.PeerConnectionStateConnected:
		c.established = true
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		if !c.failed && !c.closing {
			c.failed = true
			fire = c.onFailed
			if !c.established {
				c.logger.Warn("peer connection ended before it connected", "state", s.String())
			}
		}
	}
	c.mu.Unlock()
	if fire != nil {
		go fire()
	}
}

func (c *Connection) OnFailed(fn func()) {
	c.mu.Lock()
	c.onFailed = fn
	c.mu.Unlock()
}

// localTrack is implemented by the tracks this package creates.
type localTrack interface {
	media.Track
	Local() webrtc.TrackLocal
}

func asLocal(t media.Track) (webrtc.TrackLocal, error) {
	lt, ok := t.(localTrack)
	if !ok {
		return nil, fmt.Errorf("rtc: track %T is not a pion track", t)
	}
	return lt.Local(), nil
}

func (c *Connection) AddTrack(t media.Track) (media.Sender, error) {
	local, err := asLocal(t)
	if err != nil {
		return nil, err
	}
	sender, err := c.pc.AddTrack(local)
	if err != nil {
		return nil, fmt.Errorf("rtc: add track: %w", err)
	}
	// RTCP has to be read for interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return &Sender{sender: sender}, nil
}

func (c *Connection) OnRemoteTrack(fn func(media.RemoteTrack)) {
	c.pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info("remote track", "id", tr.ID(), "codec", tr.Codec().MimeType)
		fn(remoteTrack{tr})
	})
}

func (c *Connection) OpenEventTransport() (eventchannel.Transport, error) {
	dc, err := c.pc.CreateDataChannel(EventChannelLabel, nil)
	if err != nil {
		return nil, fmt.Errorf("rtc: create data channel: %w", err)
	}
	return &DataChannel{dc: dc}, nil
}

// CreateOffer sets the local description and waits for ICE gathering so the
// returned SDP carries every candidate.
func (c *Connection) CreateOffer(ctx context.Context) (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("rtc: create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("rtc: set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	local := c.pc.LocalDescription()
	if local == nil {
		return "", errors.New("rtc: no local description after gathering")
	}
	return local.SDP, nil
}

func (c *Connection) ApplyAnswer(sdp string) error {
	err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		return fmt.Errorf("rtc: set remote description: %w", err)
	}
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	return c.pc.Close()
}

// Sender adapts an RTPSender.
type Sender struct {
	sender *webrtc.RTPSender
}

func (s *Sender) ReplaceTrack(t media.Track) error {
	local, err := asLocal(t)
	if err != nil {
		return err
	}
	return s.sender.ReplaceTrack(local)
}

// DataChannel adapts a pion data channel to an event transport.
type DataChannel struct {
	dc *webrtc.DataChannel
}

func (d *DataChannel) SendText(text string) error { return d.dc.SendText(text) }
func (d *DataChannel) OnOpen(fn func())          { d.dc.OnOpen(fn) }
func (d *DataChannel) OnClose(fn func())         { d.dc.OnClose(fn) }
func (d *DataChannel) Close() error              { return d.dc.Close() }

func (d *DataChannel) OnMessage(fn func([]byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

type remoteTrack struct {
	tr *webrtc.TrackRemote
}

func (r remoteTrack) ID() string       { return r.tr.ID() }
func (r remoteTrack) MimeType() string { return r.tr.Codec().MimeType }

func (r remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.tr.ReadRTP()
	return pkt, err
}

var (
	_ session.ConnectionFactory = (*Factory)(nil)
	_ session.Connection        = (*Connection)(nil)
	_ eventchannel.Transport    = (*DataChannel)(nil)
	_ media.SilenceSource       = Silence{}
	_ media.Microphone          = FileMicrophone{}
	_ media.Microphone          = SilentMicrophone{}
	_ media.AudioSink           = (*OggRecorder)(nil)
	_ media.AudioSink           = (*DiscardSink)(nil)
)
