// Package decode wraps the codec engine behind a packets-in, frames-out
// contract.
//
// The engine buffers reference frames internally, so the number of frames
// returned per fed packet is zero or more and decode output may lag input.
// Callers must Flush on stream end to drain whatever is still buffered.
package decode

import (
	"errors"

	"github.com/visiona/camfeed/internal/frame"
	"github.com/visiona/camfeed/internal/source"
)

// ErrEngineFatal signals an unrecoverable engine state. The session must be
// torn down and reconnected; feeding more packets is pointless.
var ErrEngineFatal = errors.New("decode: engine in unrecoverable state")

// Decoder turns compressed packets into raw frames.
//
// Feed returns the frames that became available after consuming the packet
// (possibly none, possibly several). A decode error on a single packet is
// returned for logging but the decoder remains usable; only an error
// wrapping ErrEngineFatal requires teardown.
type Decoder interface {
	Feed(pkt source.CompressedPacket) ([]frame.RawFrame, error)
	// Flush drains frames still buffered inside the engine on stream end
	Flush() []frame.RawFrame
	// Close releases the engine. Idempotent.
	Close() error
}

// Factory builds one decoder per session. Sessions must not share decoder
// state: reference frames from a dead connection would corrupt the next one.
type Factory func() (Decoder, error)
