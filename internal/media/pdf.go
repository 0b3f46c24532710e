package media

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
)

// RenderFirstPage rasterizes page one of a PDF into a JPEG.
func RenderFirstPage(pdf []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", ErrUnsupportedMedia, err)
	}
	defer func() { _ = doc.Close() }()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", ErrUnsupportedMedia)
	}
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("media: render pdf page: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("media: encode pdf page: %w", err)
	}
	return buf.Bytes(), nil
}
