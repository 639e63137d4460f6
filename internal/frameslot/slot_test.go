package frameslot

import (
	"testing"
	"time"

	"github.com/visiona/camfeed/internal/frame"
)

func testFrame(seq byte) frame.FormattedFrame {
	return frame.FormattedFrame{
		Data:   []byte{seq},
		Width:  1,
		Height: 1,
		Format: frame.FormatRGB888,
	}
}

func TestCurrentReturnsLastPublished(t *testing.T) {
	s := New()
	defer s.Close()

	if _, _, ok := s.Current(); ok {
		t.Fatal("Empty slot reported a frame")
	}

	for i := byte(1); i <= 10; i++ {
		if err := s.Publish(testFrame(i)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	f, version, ok := s.Current()
	if !ok {
		t.Fatal("Current returned no frame after publishes")
	}
	if f.Data[0] != 10 {
		t.Errorf("Expected latest frame 10, got %d", f.Data[0])
	}
	if version != 10 {
		t.Errorf("Expected version 10, got %d", version)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	s := New()
	defer s.Close()

	// A subscriber that never reads must not slow down the writer
	_ = s.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Publish(testFrame(byte(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Publish blocked with an idle subscriber")
	}
}

func TestSlowSubscriberSkipsToLatest(t *testing.T) {
	s := New()
	defer s.Close()

	sub := s.Subscribe()

	// Publish a burst, then read once: the subscriber must land on the
	// latest version, not replay intermediates.
	for i := byte(1); i <= 5; i++ {
		s.Publish(testFrame(i))
	}

	f, version, ok := sub.Next()
	if !ok {
		t.Fatal("Next returned not-ok on open slot")
	}
	if version != 5 || f.Data[0] != 5 {
		t.Errorf("Expected version 5 frame 5, got version %d frame %d", version, f.Data[0])
	}

	// No newer version: TryNext must report nothing rather than re-deliver
	if _, _, ok := sub.TryNext(); ok {
		t.Error("TryNext re-delivered an already-seen version")
	}
}

func TestSubscriberVersionsStrictlyIncreasing(t *testing.T) {
	s := New()
	sub := s.Subscribe()

	versions := make(chan uint64, 100)
	go func() {
		defer close(versions)
		for {
			_, v, ok := sub.Next()
			if !ok {
				return
			}
			versions <- v
		}
	}()

	const total = 50
	for i := 0; i < total; i++ {
		s.Publish(testFrame(byte(i)))
		if i%7 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	// Give the reader a moment to catch the final version before close
	time.Sleep(50 * time.Millisecond)
	s.Close()

	var last uint64
	var final uint64
	for v := range versions {
		if v <= last {
			t.Fatalf("Version sequence not strictly increasing: %d after %d", v, last)
		}
		last = v
		final = v
	}
	if final != total {
		t.Errorf("Subscriber did not end at latest version: got %d, want %d", final, total)
	}
}

func TestNextUnblocksOnClose(t *testing.T) {
	s := New()
	sub := s.Subscribe()

	done := make(chan bool, 1)
	go func() {
		_, _, ok := sub.Next()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	s.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Next returned ok=true after Close")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Next stayed blocked after Close")
	}
}

func TestPublishAfterClose(t *testing.T) {
	s := New()
	s.Close()
	s.Close() // idempotent

	if err := s.Publish(testFrame(1)); err != ErrSlotClosed {
		t.Errorf("Expected ErrSlotClosed, got %v", err)
	}
}

func TestConcurrentReadersObserveWholeFrames(t *testing.T) {
	s := New()
	defer s.Close()

	// Every published frame is self-consistent: all bytes equal. A reader
	// observing mixed bytes would indicate a torn write.
	const size = 1024
	stop := make(chan struct{})
	go func() {
		seq := byte(0)
		for {
			select {
			case <-stop:
				return
			default:
			}
			seq++
			data := make([]byte, size)
			for i := range data {
				data[i] = seq
			}
			s.Publish(frame.FormattedFrame{Data: data, Width: size / 3, Height: 1})
		}
	}()

	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case <-deadline:
			close(stop)
			return
		default:
		}
		f, _, ok := s.Current()
		if !ok {
			continue
		}
		first := f.Data[0]
		for i, b := range f.Data {
			if b != first {
				t.Fatalf("Torn frame: byte %d is %d, byte 0 is %d", i, b, first)
			}
		}
	}
}
