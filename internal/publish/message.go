// Package publish turns frames from a camera's slot into broker messages.
// Each publisher follows one slot and emits exactly one message per frame
// version it observes; versions skipped by a slow publisher are simply
// never sent.
package publish

import (
	"encoding/json"
	"time"

	"github.com/visiona/camfeed/internal/frame"
)

// Header carries the routing and tracing metadata of one image message.
type Header struct {
	// EntityPath identifies the camera stream, e.g. /camera/10.0.0.7/stream1
	EntityPath string `json:"entity_path"`
	// CapturedAt is the wallclock time the frame finished decoding
	CapturedAt time.Time `json:"captured_at"`
	TraceID    string    `json:"trace_id"`
}

// Image is the wire message for one published frame. Data is raw pixel
// bytes in the declared format (base64 in the JSON encoding).
type Image struct {
	Header Header `json:"header"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []byte `json:"data"`
}

// NewImage builds the wire message for a formatted frame.
func NewImage(entityPath string, f frame.FormattedFrame) Image {
	return Image{
		Header: Header{
			EntityPath: entityPath,
			CapturedAt: f.CapturedAt,
			TraceID:    f.TraceID,
		},
		Format: f.Format.String(),
		Width:  f.Width,
		Height: f.Height,
		Data:   f.Data,
	}
}

// ToJSON marshals the message for the broker.
func (m Image) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
