// Package imaging reads uploaded images and writes grid thumbnails.
package imaging

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register gif
	"image/jpeg"
	_ "image/png" // register png
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register webp
)

// ErrUnsupported is returned for payloads that are not a decodable image.
var ErrUnsupported = errors.New("unsupported image format")

// Info describes an uploaded image without decoding its pixels.
type Info struct {
	Width  int
	Height int
	Format string // jpeg, png, gif or webp
}

// Inspect reads only the image header.
func Inspect(r io.Reader) (Info, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return Info{}, ErrUnsupported
		}
		return Info{}, fmt.Errorf("read image header: %w", err)
	}
	return Info{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// ThumbnailSize returns the dimensions of a thumbnail that fits in a
// maxSide square while keeping the aspect ratio.  Images already small
// enough keep their size.
func ThumbnailSize(w, h, maxSide int) (int, int) {
	if w <= maxSide && h <= maxSide {
		return w, h
	}
	if w >= h {
		nh := h * maxSide / w
		if nh < 1 {
			nh = 1
		}
		return maxSide, nh
	}
	nw := w * maxSide / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxSide
}

// WriteThumbnail decodes src, scales it to fit maxSide and writes it to dst
// as JPEG with the given quality.
func WriteThumbnail(src io.Reader, dst io.Writer, maxSide, quality int) error {
	img, _, err := image.Decode(src)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return ErrUnsupported
		}
		return fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	w, h := ThumbnailSize(b.Dx(), b.Dy(), maxSide)

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(out, out.Bounds(), img, b, draw.Over, nil)

	if err := jpeg.Encode(dst, out, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	return nil
}
