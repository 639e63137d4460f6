// Package source acquires compressed video packets from network cameras.
//
// A Source owns the connection lifecycle for one camera: it establishes the
// transport session, selects the configured sub-stream, and yields compressed
// access units. Decode is someone else's job.
package source

import (
	"context"
	"time"
)

// CompressedPacket is one compressed access unit demuxed from the transport
// stream, in Annex-B byte-stream framing.
type CompressedPacket struct {
	Data []byte
	// StreamIndex is the index of the video sub-stream this packet came from
	StreamIndex int
	// PTS is the presentation timestamp from the stream
	PTS time.Duration
	// KeyFrame is true if the access unit contains an IDR slice
	KeyFrame bool
}

// Session is one live connection to a camera.
//
// NextPacket blocks until a packet arrives, the configured read timeout
// expires (TransientError), or the session dies. It returns io.EOF on orderly
// stream end. Close is idempotent and releases the network connection.
type Session interface {
	NextPacket(ctx context.Context) (CompressedPacket, error)
	Close() error
}

// Source establishes sessions to a single camera.
type Source interface {
	Connect(ctx context.Context) (Session, error)
}
