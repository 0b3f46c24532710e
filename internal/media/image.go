package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxDimension  = 1920
	DefaultMaxBytes      = 10 << 20
	DefaultMaxPixels     = 40_000_000
	DefaultMaxInputBytes = 50 << 20
	jpegMIME             = "image/jpeg"
)

// jpegQualities are tried in order until the encoded image fits the byte
// budget.
var jpegQualities = []int{85, 70, 55}

// ImageLimits bounds images sent to the completion service.
type ImageLimits struct {
	MaxDimension int
	MaxBytes     int
	// MaxPixels caps the decoded size declared in the image header.
	MaxPixels int
	// MaxInputBytes caps the raw upload before decoding.
	MaxInputBytes int
}

func (l ImageLimits) withDefaults() ImageLimits {
	if l.MaxDimension <= 0 {
		l.MaxDimension = DefaultMaxDimension
	}
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxBytes
	}
	if l.MaxPixels <= 0 {
		l.MaxPixels = DefaultMaxPixels
	}
	if l.MaxInputBytes <= 0 {
		l.MaxInputBytes = DefaultMaxInputBytes
	}
	return l
}

// OptimizeImage decodes data, downsizes it to fit within the dimension
// limit and re-encodes it as JPEG. It returns ErrPayloadTooLarge when the
// upload or its declared pixel count is over budget, or when the lowest
// quality still exceeds the byte budget.
func OptimizeImage(data []byte, limits ImageLimits) ([]byte, string, error) {
	limits = limits.withDefaults()
	if len(data) > limits.MaxInputBytes {
		return nil, "", fmt.Errorf("%w: %d bytes uploaded, limit %d", ErrPayloadTooLarge, len(data), limits.MaxInputBytes)
	}

	// The header is checked before decoding so a small file declaring huge
	// dimensions never allocates its pixel buffer.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode image header: %v", ErrUnsupportedMedia, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: image has no pixels", ErrUnsupportedMedia)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(limits.MaxPixels) {
		return nil, "", fmt.Errorf("%w: %dx%d pixels, limit %d", ErrPayloadTooLarge, cfg.Width, cfg.Height, limits.MaxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode image: %v", ErrUnsupportedMedia, err)
	}
	img := flatten(downscale(src, limits.MaxDimension))

	var buf bytes.Buffer
	for _, q := range jpegQualities {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, "", fmt.Errorf("media: encode jpeg: %w", err)
		}
		if buf.Len() <= limits.MaxBytes {
			return buf.Bytes(), jpegMIME, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %d bytes after re-encoding, limit %d", ErrPayloadTooLarge, buf.Len(), limits.MaxBytes)
}

// downscale keeps the aspect ratio and never upsizes.
func downscale(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return src
	}
	if w >= h {
		h = h * maxDim / w
		w = maxDim
	} else {
		w = w * maxDim / h
		h = maxDim
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// flatten composites transparent images onto white so JPEG encoding does
// not turn transparent regions black.
func flatten(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}
