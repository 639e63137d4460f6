package frame

import (
	"bytes"
	"errors"
	"image/color"
	"testing"
)

// solidI420 builds a tightly packed I420 frame of a single YUV color.
func solidI420(w, h int, y, u, v byte) RawFrame {
	data := make([]byte, Size(FormatYUV420, w, h))
	for i := 0; i < w*h; i++ {
		data[i] = y
	}
	for i := w * h; i < w*h+(w/2)*(h/2); i++ {
		data[i] = u
	}
	for i := w*h + (w/2)*(h/2); i < len(data); i++ {
		data[i] = v
	}
	return RawFrame{Data: data, Width: w, Height: h, Layout: LayoutI420}
}

func TestConvertI420ToRGB888SolidColor(t *testing.T) {
	// A pure red pixel in BT.601
	yy, cb, cr := color.RGBToYCbCr(255, 0, 0)
	raw := solidI420(8, 6, yy, cb, cr)

	out, err := Convert(raw, FormatRGB888)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	if len(out.Data) != 8*6*3 {
		t.Fatalf("Expected %d bytes, got %d", 8*6*3, len(out.Data))
	}

	wantR, wantG, wantB := color.YCbCrToRGB(yy, cb, cr)
	for i := 0; i < len(out.Data); i += 3 {
		r, g, b := out.Data[i], out.Data[i+1], out.Data[i+2]
		if r != wantR || g != wantG || b != wantB {
			t.Fatalf("Pixel %d: got (%d,%d,%d), want (%d,%d,%d)",
				i/3, r, g, b, wantR, wantG, wantB)
		}
	}
}

func TestConvertI420ToYUV420PlaneSizes(t *testing.T) {
	const w, h = 16, 12
	raw := solidI420(w, h, 100, 110, 120)

	out, err := Convert(raw, FormatYUV420)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	want := w*h + 2*((w/2)*(h/2))
	if len(out.Data) != want {
		t.Errorf("Expected total %d bytes (Y=%d, U=%d, V=%d), got %d",
			want, w*h, (w/2)*(h/2), (w/2)*(h/2), len(out.Data))
	}

	// Plane contents must survive the copy
	if out.Data[0] != 100 {
		t.Errorf("Y plane: got %d, want 100", out.Data[0])
	}
	if out.Data[w*h] != 110 {
		t.Errorf("U plane: got %d, want 110", out.Data[w*h])
	}
	if out.Data[w*h+(w/2)*(h/2)] != 120 {
		t.Errorf("V plane: got %d, want 120", out.Data[w*h+(w/2)*(h/2)])
	}
}

func TestConvertRGB24StrideStrip(t *testing.T) {
	// 4x2 RGB frame with 4 bytes of row padding
	const w, h, pad = 4, 2, 4
	stride := w*3 + pad
	data := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := y*stride + x*3
			data[o] = 10
			data[o+1] = 20
			data[o+2] = 30
		}
	}
	raw := RawFrame{Data: data, Width: w, Height: h, Layout: LayoutRGB24, Strides: []int{stride}}

	out, err := Convert(raw, FormatRGB888)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if len(out.Data) != w*h*3 {
		t.Fatalf("Expected packed %d bytes, got %d", w*h*3, len(out.Data))
	}
	for i := 0; i < len(out.Data); i += 3 {
		if out.Data[i] != 10 || out.Data[i+1] != 20 || out.Data[i+2] != 30 {
			t.Fatalf("Pixel %d: padding leaked into packed output", i/3)
		}
	}
}

func TestConvertNV12ToYUV420Deinterleave(t *testing.T) {
	const w, h = 4, 4
	data := make([]byte, w*h+w*(h/2))
	for i := 0; i < w*h; i++ {
		data[i] = 50
	}
	// Interleaved UV: U=60, V=70
	for i := w * h; i < len(data); i += 2 {
		data[i] = 60
		data[i+1] = 70
	}
	raw := RawFrame{Data: data, Width: w, Height: h, Layout: LayoutNV12}

	out, err := Convert(raw, FormatYUV420)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	uPlane := out.Data[w*h : w*h+(w/2)*(h/2)]
	vPlane := out.Data[w*h+(w/2)*(h/2):]
	if !bytes.Equal(uPlane, bytes.Repeat([]byte{60}, len(uPlane))) {
		t.Errorf("U plane not deinterleaved: %v", uPlane)
	}
	if !bytes.Equal(vPlane, bytes.Repeat([]byte{70}, len(vPlane))) {
		t.Errorf("V plane not deinterleaved: %v", vPlane)
	}
}

func TestConvertRGBToYUV420RoundTrip(t *testing.T) {
	const w, h = 8, 8
	data := make([]byte, w*h*3)
	for i := 0; i < len(data); i += 3 {
		data[i] = 0
		data[i+1] = 255
		data[i+2] = 0
	}
	raw := RawFrame{Data: data, Width: w, Height: h, Layout: LayoutRGB24}

	out, err := Convert(raw, FormatYUV420)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	yy, cb, cr := color.RGBToYCbCr(0, 255, 0)
	if out.Data[0] != yy {
		t.Errorf("Y: got %d, want %d", out.Data[0], yy)
	}
	if out.Data[w*h] != cb {
		t.Errorf("U: got %d, want %d", out.Data[w*h], cb)
	}
	if out.Data[w*h+(w/2)*(h/2)] != cr {
		t.Errorf("V: got %d, want %d", out.Data[w*h+(w/2)*(h/2)], cr)
	}
}

func TestConvertUnknownLayout(t *testing.T) {
	raw := RawFrame{Data: make([]byte, 64), Width: 4, Height: 4, Layout: LayoutUnknown}
	_, err := Convert(raw, FormatRGB888)
	if !errors.Is(err, ErrUnsupportedConversion) {
		t.Errorf("Expected ErrUnsupportedConversion, got %v", err)
	}
}

func TestConvertOddDimensionsToYUV420(t *testing.T) {
	raw := RawFrame{Data: make([]byte, 5*5*3), Width: 5, Height: 5, Layout: LayoutRGB24}
	_, err := Convert(raw, FormatYUV420)
	if !errors.Is(err, ErrUnsupportedConversion) {
		t.Errorf("Expected ErrUnsupportedConversion for odd dimensions, got %v", err)
	}
}

func TestConvertOddDimensionsI420ToRGB888(t *testing.T) {
	// Odd dimensions round the chroma planes up: 5x5 needs Y=25 plus two
	// 3x3 chroma planes
	const w, h = 5, 5
	cw, ch := (w+1)/2, (h+1)/2
	raw := RawFrame{
		Data:   make([]byte, w*h+2*cw*ch),
		Width:  w,
		Height: h,
		Layout: LayoutI420,
	}

	out, err := Convert(raw, FormatRGB888)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if len(out.Data) != w*h*3 {
		t.Errorf("Expected %d bytes, got %d", w*h*3, len(out.Data))
	}

	// A buffer sized with floor-divided chroma planes is too short for the
	// rounded-up geometry and must be rejected, not indexed past its end
	short := RawFrame{
		Data:   make([]byte, w*h+2*(w/2)*(h/2)),
		Width:  w,
		Height: h,
		Layout: LayoutI420,
	}
	if _, err := Convert(short, FormatRGB888); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Expected ErrInvalidFrame for floor-sized buffer, got %v", err)
	}
}

func TestConvertOddDimensionsNV12ToRGB888(t *testing.T) {
	const w, h = 5, 5
	cw, ch := (w+1)/2, (h+1)/2
	raw := RawFrame{
		Data:   make([]byte, w*h+2*cw*ch),
		Width:  w,
		Height: h,
		Layout: LayoutNV12,
	}

	out, err := Convert(raw, FormatRGB888)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if len(out.Data) != w*h*3 {
		t.Errorf("Expected %d bytes, got %d", w*h*3, len(out.Data))
	}

	short := RawFrame{
		Data:   make([]byte, w*h+w*(h/2)),
		Width:  w,
		Height: h,
		Layout: LayoutNV12,
	}
	if _, err := Convert(short, FormatRGB888); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Expected ErrInvalidFrame for floor-sized buffer, got %v", err)
	}
}

func TestConvertShortBuffer(t *testing.T) {
	raw := RawFrame{Data: make([]byte, 10), Width: 8, Height: 8, Layout: LayoutI420}
	_, err := Convert(raw, FormatYUV420)
	if !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Expected ErrInvalidFrame, got %v", err)
	}
}

func TestParsePixelFormat(t *testing.T) {
	cases := []struct {
		in   string
		want PixelFormat
	}{
		{"YUV420", FormatYUV420},
		{"yuv420", FormatYUV420},
		{" yuv420 ", FormatYUV420},
		{"RGB888", FormatRGB888},
		{"", FormatRGB888},
		{"bogus", FormatRGB888},
	}
	for _, c := range cases {
		if got := ParsePixelFormat(c.in); got != c.want {
			t.Errorf("ParsePixelFormat(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
