// Package frame defines the pixel frame types exchanged between the decode
// pipeline stages and the format conversion between native decoder layouts
// and the configured output formats.
package frame

import (
	"strings"
	"time"
)

// PixelLayout identifies the native pixel layout of a decoded frame as
// produced by the decode engine.
type PixelLayout int

const (
	// LayoutUnknown is an unrecognized layout; conversion always fails
	LayoutUnknown PixelLayout = iota
	// LayoutI420 is planar YUV 4:2:0 (Y plane, then U, then V)
	LayoutI420
	// LayoutNV12 is semi-planar YUV 4:2:0 (Y plane, then interleaved UV)
	LayoutNV12
	// LayoutRGB24 is packed 8-bit RGB triples, row-major
	LayoutRGB24
)

// String returns a human-readable name for the layout
func (l PixelLayout) String() string {
	switch l {
	case LayoutI420:
		return "I420"
	case LayoutNV12:
		return "NV12"
	case LayoutRGB24:
		return "RGB24"
	default:
		return "unknown"
	}
}

// PixelFormat identifies an output pixel format for published frames.
type PixelFormat int

const (
	// FormatRGB888 is interleaved 8-bit R,G,B triples per pixel, row-major,
	// no padding
	FormatRGB888 PixelFormat = iota
	// FormatYUV420 is planar 4:2:0: full-resolution Y plane followed by
	// half-width, half-height U and V planes
	FormatYUV420
)

// String returns the canonical configuration name for the format
func (f PixelFormat) String() string {
	switch f {
	case FormatYUV420:
		return "YUV420"
	default:
		return "RGB888"
	}
}

// ParsePixelFormat parses a configuration value into a PixelFormat.
// Matching is case-insensitive; unrecognized values fall back to RGB888.
func ParsePixelFormat(s string) PixelFormat {
	if strings.EqualFold(strings.TrimSpace(s), "YUV420") {
		return FormatYUV420
	}
	return FormatRGB888
}

// RawFrame is a decoded pixel buffer in the decoder's native layout.
//
// Strides holds the per-plane row strides in bytes. A nil Strides means the
// buffer is tightly packed (stride equals the minimal row width per plane).
type RawFrame struct {
	Data    []byte
	Width   int
	Height  int
	Layout  PixelLayout
	Strides []int
	// PTS is the presentation timestamp as emitted by the decoder
	PTS time.Duration
}

// FormattedFrame is a pixel buffer in one of the configured output formats.
// This is the unit stored in a frame slot and handed to publishers.
type FormattedFrame struct {
	Data   []byte
	Width  int
	Height int
	Format PixelFormat
	// PTS is carried through from the decoded frame for ordering
	PTS time.Duration
	// CapturedAt is the wallclock time the frame finished decode+convert
	CapturedAt time.Time
	// TraceID uniquely identifies the frame across log lines and messages
	TraceID string
}

// Size returns the byte size of a frame of the given format and dimensions.
func Size(f PixelFormat, width, height int) int {
	switch f {
	case FormatYUV420:
		return width*height + 2*((width/2)*(height/2))
	default:
		return width * height * 3
	}
}
