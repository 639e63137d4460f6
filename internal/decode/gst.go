package decode

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/visiona/camfeed/internal/frame"
	"github.com/visiona/camfeed/internal/source"
)

const (
	frameQueueSize = 16
	flushTimeout   = 2 * time.Second
)

// GstDecoder decodes H.264 access units through a GStreamer pipeline:
//
//	appsrc → h264parse → avdec_h264 → videoconvert → capsfilter(I420) → appsink
//
// Frames come out in I420, the engine's native planar layout; format
// conversion to the configured output happens downstream.
type GstDecoder struct {
	pipeline *gst.Pipeline
	appsrc   *app.Source
	appsink  *app.Sink

	frames chan frame.RawFrame

	fatal   atomic.Bool
	eos     atomic.Bool
	stopBus chan struct{}
	closed  atomic.Bool

	label string

	framesOut     uint64
	framesDropped uint64
	decodeErrors  uint64
}

// NewGstDecoder creates and starts a decode pipeline.
//
// label identifies the owning camera in logs. Fail-fast: a missing GStreamer
// installation or plugin surfaces here, not at first frame.
func NewGstDecoder(label string) (*GstDecoder, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("decode: failed to create pipeline: %w", err)
	}

	// Release the native pipeline when construction fails partway
	fail := func(err error) (*GstDecoder, error) {
		pipeline.SetState(gst.StateNull)
		return nil, err
	}

	appsrc, err := app.NewAppSrc()
	if err != nil {
		return fail(fmt.Errorf("decode: failed to create appsrc: %w", err))
	}
	appsrc.SetCaps(gst.NewCapsFromString(
		"video/x-h264,stream-format=byte-stream,alignment=au"))
	appsrc.SetProperty("is-live", true)
	appsrc.SetProperty("format", 3) // GST_FORMAT_TIME

	parser, err := gst.NewElement("h264parse")
	if err != nil {
		return fail(fmt.Errorf("decode: failed to create h264parse: %w", err))
	}

	decoder, err := gst.NewElement("avdec_h264")
	if err != nil {
		return fail(fmt.Errorf("decode: failed to create avdec_h264: %w", err))
	}
	decoder.SetProperty("max-threads", 0)        // auto-detect cores
	decoder.SetProperty("output-corrupt", false) // skip damaged frames

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return fail(fmt.Errorf("decode: failed to create videoconvert: %w", err))
	}
	converter.SetProperty("n-threads", 0)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fail(fmt.Errorf("decode: failed to create capsfilter: %w", err))
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString("video/x-raw,format=I420"))

	appsink, err := app.NewAppSink()
	if err != nil {
		return fail(fmt.Errorf("decode: failed to create appsink: %w", err))
	}
	appsink.SetProperty("sync", false) // no clock sync, we want frames as fast as decode allows

	d := &GstDecoder{
		pipeline: pipeline,
		appsrc:   appsrc,
		appsink:  appsink,
		frames:   make(chan frame.RawFrame, frameQueueSize),
		stopBus:  make(chan struct{}),
		label:    label,
	}

	pipeline.AddMany(appsrc.Element, parser, decoder, converter, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(appsrc.Element, parser, decoder, converter, capsfilter, appsink.Element); err != nil {
		return fail(fmt.Errorf("decode: failed to link pipeline elements: %w", err))
	}

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: d.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fail(fmt.Errorf("decode: failed to start pipeline: %w", err))
	}

	go d.watchBus()

	slog.Debug("decode: gstreamer pipeline started", "camera", label)
	return d, nil
}

// Feed pushes one access unit into the engine and returns the frames that
// are available so far. Zero frames is normal while the engine builds its
// reference buffer.
func (d *GstDecoder) Feed(pkt source.CompressedPacket) ([]frame.RawFrame, error) {
	if d.fatal.Load() {
		return d.drain(), ErrEngineFatal
	}
	if d.closed.Load() {
		return nil, ErrEngineFatal
	}

	buf := gst.NewBufferFromBytes(pkt.Data)
	buf.SetPresentationTimestamp(pkt.PTS)

	if ret := d.appsrc.PushBuffer(buf); ret != gst.FlowOK {
		atomic.AddUint64(&d.decodeErrors, 1)
		if ret == gst.FlowEOS || ret == gst.FlowFlushing {
			d.fatal.Store(true)
			return d.drain(), fmt.Errorf("%w: push returned %v", ErrEngineFatal, ret)
		}
		// A refused buffer is a skippable per-packet failure
		return d.drain(), fmt.Errorf("decode: engine refused packet (flow %v)", ret)
	}

	if d.fatal.Load() {
		return d.drain(), ErrEngineFatal
	}
	return d.drain(), nil
}

// Flush signals end-of-stream and drains the frames still buffered inside
// the engine (B-frame reordering holds some back until EOS).
func (d *GstDecoder) Flush() []frame.RawFrame {
	if d.closed.Load() || d.fatal.Load() {
		return d.drain()
	}

	d.appsrc.EndStream()

	deadline := time.Now().Add(flushTimeout)
	for !d.eos.Load() && !d.fatal.Load() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	return d.drain()
}

// Close tears down the pipeline. Idempotent.
func (d *GstDecoder) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(d.stopBus)
	if err := d.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("decode: failed to stop pipeline: %w", err)
	}
	slog.Debug("decode: gstreamer pipeline stopped",
		"camera", d.label,
		"frames_out", atomic.LoadUint64(&d.framesOut),
		"frames_dropped", atomic.LoadUint64(&d.framesDropped),
		"decode_errors", atomic.LoadUint64(&d.decodeErrors),
	)
	return nil
}

// drain collects whatever decoded frames are queued, without blocking.
func (d *GstDecoder) drain() []frame.RawFrame {
	var out []frame.RawFrame
	for {
		select {
		case f := <-d.frames:
			out = append(out, f)
		default:
			return out
		}
	}
}

// onNewSample runs on the GStreamer streaming thread for every decoded frame.
func (d *GstDecoder) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// A single bad sample should not kill the pipeline
		slog.Warn("decode: failed to pull sample, skipping frame", "camera", d.label)
		return gst.FlowOK
	}

	width, height, ok := sampleDimensions(sample)
	if !ok {
		slog.Warn("decode: sample without dimensions, skipping frame", "camera", d.label)
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("decode: sample without buffer, skipping frame", "camera", d.label)
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("decode: empty buffer received", "camera", d.label)
		return gst.FlowOK
	}

	// Copy out: GStreamer reuses the buffer after unmap
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	raw := frame.RawFrame{
		Data:   frameData,
		Width:  width,
		Height: height,
		Layout: frame.LayoutI420,
		PTS:    buffer.PresentationTimestamp(),
	}

	select {
	case d.frames <- raw:
		atomic.AddUint64(&d.framesOut, 1)
	default:
		// Consumer is behind; holding the streaming thread would stall
		// decode, so the frame is dropped instead
		atomic.AddUint64(&d.framesDropped, 1)
		slog.Debug("decode: dropping frame, queue full", "camera", d.label)
	}

	return gst.FlowOK
}

// watchBus polls the pipeline bus and records EOS and fatal errors.
func (d *GstDecoder) watchBus() {
	bus := d.pipeline.GetPipelineBus()
	for {
		select {
		case <-d.stopBus:
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			d.eos.Store(true)

		case gst.MessageError:
			gerr := msg.ParseError()
			atomic.AddUint64(&d.decodeErrors, 1)
			d.fatal.Store(true)
			slog.Error("decode: pipeline error",
				"camera", d.label,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)

		case gst.MessageWarning:
			// Usually a corrupt packet the decoder skipped; stream continues
			atomic.AddUint64(&d.decodeErrors, 1)
			slog.Debug("decode: pipeline warning", "camera", d.label)
		}
	}
}

// sampleDimensions extracts width and height from the sample caps.
func sampleDimensions(sample *gst.Sample) (width, height int, ok bool) {
	caps := sample.GetCaps()
	if caps == nil {
		return 0, 0, false
	}
	s := caps.GetStructureAt(0)
	if s == nil {
		return 0, 0, false
	}

	wv, err := s.GetValue("width")
	if err != nil {
		return 0, 0, false
	}
	hv, err := s.GetValue("height")
	if err != nil {
		return 0, 0, false
	}

	w, wok := wv.(int)
	h, hok := hv.(int)
	if !wok || !hok || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// Stats returns engine counters for health reporting.
func (d *GstDecoder) Stats() (framesOut, framesDropped, decodeErrors uint64) {
	return atomic.LoadUint64(&d.framesOut),
		atomic.LoadUint64(&d.framesDropped),
		atomic.LoadUint64(&d.decodeErrors)
}
