package frame

import (
	"errors"
	"fmt"
	"image/color"
)

var (
	// ErrUnsupportedConversion is returned when the source layout cannot be
	// converted to the requested target format. This is a misconfiguration,
	// not a steady-state condition.
	ErrUnsupportedConversion = errors.New("frame: unsupported conversion")
	// ErrInvalidFrame is returned when a raw frame's buffer does not match
	// its declared dimensions and layout.
	ErrInvalidFrame = errors.New("frame: invalid raw frame")
)

// Convert transforms a decoded frame into the target pixel format.
//
// Supported conversions:
//
//	RGB24 → RGB888   stride strip / copy
//	I420  → YUV420   plane copy
//	NV12  → YUV420   chroma deinterleave
//	I420  → RGB888   BT.601
//	NV12  → RGB888   BT.601
//	RGB24 → YUV420   BT.601, chroma averaged per 2x2 block
//
// The colorspace arithmetic is delegated to image/color's YCbCr routines.
// Targets with 4:2:0 chroma require even dimensions.
func Convert(raw RawFrame, target PixelFormat) (FormattedFrame, error) {
	if err := validate(raw); err != nil {
		return FormattedFrame{}, err
	}
	if target == FormatYUV420 && (raw.Width%2 != 0 || raw.Height%2 != 0) {
		return FormattedFrame{}, fmt.Errorf("%w: odd dimensions %dx%d for YUV420 target",
			ErrUnsupportedConversion, raw.Width, raw.Height)
	}

	var data []byte
	switch {
	case raw.Layout == LayoutRGB24 && target == FormatRGB888:
		data = packRGB(raw)
	case raw.Layout == LayoutI420 && target == FormatYUV420:
		data = packI420(raw)
	case raw.Layout == LayoutNV12 && target == FormatYUV420:
		data = nv12ToI420(raw)
	case raw.Layout == LayoutI420 && target == FormatRGB888:
		data = yuvToRGB(raw, i420Chroma(raw))
	case raw.Layout == LayoutNV12 && target == FormatRGB888:
		data = yuvToRGB(raw, nv12Chroma(raw))
	case raw.Layout == LayoutRGB24 && target == FormatYUV420:
		data = rgbToYUV420(raw)
	default:
		return FormattedFrame{}, fmt.Errorf("%w: %s → %s",
			ErrUnsupportedConversion, raw.Layout, target)
	}

	return FormattedFrame{
		Data:   data,
		Width:  raw.Width,
		Height: raw.Height,
		Format: target,
		PTS:    raw.PTS,
	}, nil
}

// validate checks that the raw buffer covers its declared geometry
func validate(raw RawFrame) error {
	if raw.Width <= 0 || raw.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidFrame, raw.Width, raw.Height)
	}

	// Chroma planes use ceil geometry: odd dimensions round up, matching
	// the lookups in i420Chroma and nv12Chroma
	cw, ch := (raw.Width+1)/2, (raw.Height+1)/2

	var need int
	switch raw.Layout {
	case LayoutRGB24:
		need = rowStride(raw, 0, raw.Width*3) * raw.Height
	case LayoutI420:
		need = rowStride(raw, 0, raw.Width)*raw.Height +
			rowStride(raw, 1, cw)*ch +
			rowStride(raw, 2, cw)*ch
	case LayoutNV12:
		need = rowStride(raw, 0, raw.Width)*raw.Height +
			rowStride(raw, 1, 2*cw)*ch
	default:
		return fmt.Errorf("%w: source layout %s", ErrUnsupportedConversion, raw.Layout)
	}

	if len(raw.Data) < need {
		return fmt.Errorf("%w: buffer %d bytes, need %d for %s %dx%d",
			ErrInvalidFrame, len(raw.Data), need, raw.Layout, raw.Width, raw.Height)
	}
	return nil
}

// rowStride returns the declared stride for a plane, or the packed minimum
func rowStride(raw RawFrame, plane, packed int) int {
	if plane < len(raw.Strides) && raw.Strides[plane] > 0 {
		return raw.Strides[plane]
	}
	return packed
}

// packRGB copies an RGB24 buffer into a tightly packed RGB888 buffer,
// dropping any row padding.
func packRGB(raw RawFrame) []byte {
	stride := rowStride(raw, 0, raw.Width*3)
	rowLen := raw.Width * 3
	out := make([]byte, rowLen*raw.Height)
	for y := 0; y < raw.Height; y++ {
		copy(out[y*rowLen:(y+1)*rowLen], raw.Data[y*stride:y*stride+rowLen])
	}
	return out
}

// packI420 copies the three I420 planes into a tightly packed YUV420 buffer.
func packI420(raw RawFrame) []byte {
	w, h := raw.Width, raw.Height
	cw, ch := w/2, h/2
	ys := rowStride(raw, 0, w)
	us := rowStride(raw, 1, cw)
	vs := rowStride(raw, 2, cw)

	out := make([]byte, Size(FormatYUV420, w, h))
	uBase := ys * h
	vBase := uBase + us*ch

	n := 0
	for y := 0; y < h; y++ {
		n += copy(out[n:], raw.Data[y*ys:y*ys+w])
	}
	for y := 0; y < ch; y++ {
		n += copy(out[n:], raw.Data[uBase+y*us:uBase+y*us+cw])
	}
	for y := 0; y < ch; y++ {
		n += copy(out[n:], raw.Data[vBase+y*vs:vBase+y*vs+cw])
	}
	return out
}

// nv12ToI420 splits the interleaved NV12 chroma plane into separate U and V
// planes.
func nv12ToI420(raw RawFrame) []byte {
	w, h := raw.Width, raw.Height
	cw, ch := w/2, h/2
	ys := rowStride(raw, 0, w)
	uvs := rowStride(raw, 1, w)
	uvBase := ys * h

	out := make([]byte, Size(FormatYUV420, w, h))
	n := 0
	for y := 0; y < h; y++ {
		n += copy(out[n:], raw.Data[y*ys:y*ys+w])
	}
	uOut := out[n : n+cw*ch]
	vOut := out[n+cw*ch:]
	for y := 0; y < ch; y++ {
		row := raw.Data[uvBase+y*uvs:]
		for x := 0; x < cw; x++ {
			uOut[y*cw+x] = row[2*x]
			vOut[y*cw+x] = row[2*x+1]
		}
	}
	return out
}

// chromaAt looks up the subsampled chroma pair for pixel (x, y)
type chromaAt func(x, y int) (u, v byte)

func i420Chroma(raw RawFrame) chromaAt {
	w, h := raw.Width, raw.Height
	cw, ch := (w+1)/2, (h+1)/2
	ys := rowStride(raw, 0, w)
	us := rowStride(raw, 1, cw)
	vs := rowStride(raw, 2, cw)
	uBase := ys * h
	vBase := uBase + us*ch
	return func(x, y int) (byte, byte) {
		return raw.Data[uBase+(y/2)*us+x/2], raw.Data[vBase+(y/2)*vs+x/2]
	}
}

func nv12Chroma(raw RawFrame) chromaAt {
	ys := rowStride(raw, 0, raw.Width)
	uvs := rowStride(raw, 1, 2*((raw.Width+1)/2))
	uvBase := ys * raw.Height
	return func(x, y int) (byte, byte) {
		off := uvBase + (y/2)*uvs + (x/2)*2
		return raw.Data[off], raw.Data[off+1]
	}
}

// yuvToRGB converts a 4:2:0 frame to packed RGB888 using the shared luma
// plane and a layout-specific chroma lookup.
func yuvToRGB(raw RawFrame, chroma chromaAt) []byte {
	w, h := raw.Width, raw.Height
	ys := rowStride(raw, 0, w)
	out := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			u, v := chroma(x, y)
			r, g, b := color.YCbCrToRGB(raw.Data[y*ys+x], u, v)
			o := (y*w + x) * 3
			out[o] = r
			out[o+1] = g
			out[o+2] = b
		}
	}
	return out
}

// rgbToYUV420 converts packed RGB to planar YUV420. Chroma is averaged over
// each 2x2 block.
func rgbToYUV420(raw RawFrame) []byte {
	w, h := raw.Width, raw.Height
	cw, ch := w/2, h/2
	stride := rowStride(raw, 0, w*3)

	out := make([]byte, Size(FormatYUV420, w, h))
	yOut := out[:w*h]
	uOut := out[w*h : w*h+cw*ch]
	vOut := out[w*h+cw*ch:]

	for by := 0; by < ch; by++ {
		for bx := 0; bx < cw; bx++ {
			var uSum, vSum int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					px := bx*2 + dx
					py := by*2 + dy
					o := py*stride + px*3
					yy, cb, cr := color.RGBToYCbCr(raw.Data[o], raw.Data[o+1], raw.Data[o+2])
					yOut[py*w+px] = yy
					uSum += int(cb)
					vSum += int(cr)
				}
			}
			uOut[by*cw+bx] = byte(uSum / 4)
			vOut[by*cw+bx] = byte(vSum / 4)
		}
	}
	return out
}
