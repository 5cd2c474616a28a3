package media

import "github.com/pion/rtp"

// RemoteTrack is an inbound audio track from the model.
type RemoteTrack interface {
	ID() string
	MimeType() string
	ReadRTP() (*rtp.Packet, error)
}

// AudioSink consumes inbound tracks. Consume is called on the connection's
// callback goroutine and must not block.
type AudioSink interface {
	Consume(RemoteTrack)
}
