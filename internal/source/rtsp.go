package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/pion/rtp"
)

const (
	defaultReadTimeout = 5 * time.Second
	packetQueueSize    = 16
)

// RTSPConfig contains configuration for an RTSP packet source.
type RTSPConfig struct {
	// URL is the full RTSP URL including credentials (required)
	URL string
	// StreamIndex selects the Nth video sub-stream of the session (0-based)
	StreamIndex int
	// ReadTimeout bounds every network read; expiry classifies as transient
	ReadTimeout time.Duration
	// Label identifies the camera in logs (credentials-free)
	Label string
}

// RTSPSource connects to a camera over RTSP with TCP-based delivery and
// yields H.264 access units.
type RTSPSource struct {
	cfg RTSPConfig
}

// NewRTSPSource creates an RTSP source with fail-fast validation.
func NewRTSPSource(cfg RTSPConfig) (*RTSPSource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("source: RTSP URL is required")
	}
	if cfg.StreamIndex < 0 {
		return nil, fmt.Errorf("source: negative stream index %d", cfg.StreamIndex)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	return &RTSPSource{cfg: cfg}, nil
}

// Connect establishes the RTSP session, selects the configured video
// sub-stream and starts packet delivery.
//
// A stream index outside the session's media table returns
// ErrInvalidStreamIndex (fatal, never retried). Network-level failures
// return TransientError.
func (s *RTSPSource) Connect(ctx context.Context) (Session, error) {
	u, err := base.ParseURL(s.cfg.URL)
	if err != nil {
		return nil, fatalf("source: invalid url: %w", err)
	}

	// TCP-only transport for reliability; UDP loses too much on camera LANs
	transport := gortsplib.TransportTCP
	client := &gortsplib.Client{
		Transport:    &transport,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.ReadTimeout,
	}

	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, Classify(err)
	}

	desc, _, err := client.Describe(u)
	if err != nil {
		client.Close()
		return nil, Classify(err)
	}

	var videos []*description.Media
	for _, medi := range desc.Medias {
		if medi.Type == description.MediaTypeVideo {
			videos = append(videos, medi)
		}
	}

	if s.cfg.StreamIndex >= len(videos) {
		client.Close()
		return nil, fmt.Errorf("%w: index %d, session has %d video stream(s)",
			ErrInvalidStreamIndex, s.cfg.StreamIndex, len(videos))
	}
	medi := videos[s.cfg.StreamIndex]

	var forma *format.H264
	for _, f := range medi.Formats {
		if h, ok := f.(*format.H264); ok {
			forma = h
			break
		}
	}
	if forma == nil {
		client.Close()
		return nil, fatalf("source: stream %d is not H.264", s.cfg.StreamIndex)
	}

	rtpDec, err := forma.CreateDecoder()
	if err != nil {
		client.Close()
		return nil, fatalf("source: rtp depacketizer: %w", err)
	}

	if _, err := client.Setup(desc.BaseURL, medi, 0, 0); err != nil {
		client.Close()
		return nil, Classify(err)
	}

	sess := &rtspSession{
		client:      client,
		cfg:         s.cfg,
		packets:     make(chan CompressedPacket, packetQueueSize),
		failed:      make(chan struct{}),
		sps:         forma.SPS,
		pps:         forma.PPS,
		lastPTS:     -1,
		readTimeout: s.cfg.ReadTimeout,
	}

	client.OnPacketRTP(medi, forma, func(pkt *rtp.Packet) {
		sess.onPacket(rtpDec, medi, pkt)
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return nil, Classify(err)
	}

	// Surface session death (reset, teardown, timeout) to NextPacket
	go func() {
		sess.fail(client.Wait())
	}()

	slog.Info("source: rtsp session established",
		"camera", s.cfg.Label,
		"stream_index", s.cfg.StreamIndex,
		"video_streams", len(videos),
		"transport", "tcp",
	)

	return sess, nil
}

// rtspSession is one live RTSP connection.
type rtspSession struct {
	client      *gortsplib.Client
	cfg         RTSPConfig
	packets     chan CompressedPacket
	readTimeout time.Duration

	failed  chan struct{}
	failErr error
	failMu  sync.Mutex

	closeOnce sync.Once

	sps []byte
	pps []byte

	lastPTS time.Duration
	dropped uint64
}

// onPacket depacketizes one RTP packet into zero or more access units and
// queues them without ever blocking the read loop.
func (r *rtspSession) onPacket(rtpDec *rtph264.Decoder, medi *description.Media, pkt *rtp.Packet) {
	au, err := rtpDec.Decode(pkt)
	if err != nil {
		if err != rtph264.ErrMorePacketsNeeded && err != rtph264.ErrNonStartingPacketAndNoPrevious {
			slog.Debug("source: rtp depacketize error, skipping",
				"camera", r.cfg.Label, "error", err)
		}
		return
	}

	pts, ok := r.client.PacketPTS(medi, pkt)
	if !ok {
		return
	}
	if r.lastPTS >= 0 && pts < r.lastPTS {
		slog.Warn("source: non-monotonically increasing pts",
			"camera", r.cfg.Label, "pts", pts, "last_pts", r.lastPTS)
	}
	r.lastPTS = pts

	data, keyFrame := annexB(au, r.sps, r.pps)

	out := CompressedPacket{
		Data:        data,
		StreamIndex: r.cfg.StreamIndex,
		PTS:         pts,
		KeyFrame:    keyFrame,
	}

	select {
	case r.packets <- out:
	default:
		// Queue full: consumer is behind, drop the access unit
		n := atomic.AddUint64(&r.dropped, 1)
		slog.Debug("source: dropping packet, queue full",
			"camera", r.cfg.Label, "dropped_total", n)
	}
}

// NextPacket returns the next queued access unit. A read timeout or session
// death is reported as TransientError; orderly stream end as io.EOF.
func (r *rtspSession) NextPacket(ctx context.Context) (CompressedPacket, error) {
	timer := time.NewTimer(r.readTimeout)
	defer timer.Stop()

	select {
	case pkt := <-r.packets:
		return pkt, nil
	case <-r.failed:
		// Drain any packet already queued before reporting the failure
		select {
		case pkt := <-r.packets:
			return pkt, nil
		default:
		}
		return CompressedPacket{}, r.waitError()
	case <-timer.C:
		return CompressedPacket{}, Transient(fmt.Errorf("source: no packet within %s", r.readTimeout))
	case <-ctx.Done():
		return CompressedPacket{}, ctx.Err()
	}
}

// Close tears down the RTSP session. Idempotent.
func (r *rtspSession) Close() error {
	r.closeOnce.Do(func() {
		r.client.Close()
		slog.Debug("source: rtsp session closed",
			"camera", r.cfg.Label,
			"dropped_packets", atomic.LoadUint64(&r.dropped),
		)
	})
	return nil
}

// waitError classifies the terminal error recorded by the client watcher.
func (r *rtspSession) waitError() error {
	r.failMu.Lock()
	err := r.failErr
	r.failMu.Unlock()

	if err == nil || err == io.EOF {
		return io.EOF
	}
	return Classify(err)
}

func (r *rtspSession) fail(err error) {
	r.failMu.Lock()
	r.failErr = err
	r.failMu.Unlock()
	close(r.failed)
}

// annexB joins the NALUs of one access unit with start codes, prepending
// SPS/PPS before IDR slices so the decoder can start mid-stream.
func annexB(au [][]byte, sps, pps []byte) (data []byte, keyFrame bool) {
	hasIDR := false
	hasSPS := false
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch nalu[0] & 0x1F {
		case 5:
			hasIDR = true
		case 7:
			hasSPS = true
		}
	}

	var nalus [][]byte
	if hasIDR && !hasSPS && sps != nil && pps != nil {
		nalus = append(nalus, sps, pps)
	}
	for _, nalu := range au {
		if len(nalu) > 0 {
			nalus = append(nalus, nalu)
		}
	}

	size := 0
	for _, nalu := range nalus {
		size += 4 + len(nalu)
	}
	data = make([]byte, 0, size)
	for _, nalu := range nalus {
		data = append(data, 0x00, 0x00, 0x00, 0x01)
		data = append(data, nalu...)
	}
	return data, hasIDR
}
