package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"

	"golang.org/x/image/draw"
)

// Defaults for stored images.
const (
	MaxDimension  = 1024
	ThumbnailSize = 200
	JPEGQuality   = 85
)

// AllowedMIME lists the accepted input MIME types.
var AllowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Options controls how uploads are normalised.
type Options struct {
	MaxDimension  int
	ThumbnailSize int
	Quality       int
}

// DefaultOptions returns the built-in normalisation settings.
func DefaultOptions() Options {
	return Options{MaxDimension: MaxDimension, ThumbnailSize: ThumbnailSize, Quality: JPEGQuality}
}

// ProcessResult contains the processed image and its thumbnail.
type ProcessResult struct {
	Data      []byte
	Thumbnail []byte
	MIME      string
	Width     int
	Height    int
}

// Process validates image data by sniffing bytes, downscales it if larger
// than MaxDimension, and re-encodes it as JPEG together with a thumbnail.
func Process(data []byte, opts Options) (*ProcessResult, error) {
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = MaxDimension
	}
	if opts.ThumbnailSize <= 0 {
		opts.ThumbnailSize = ThumbnailSize
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = JPEGQuality
	}

	// Sniff actual MIME type from bytes (not trusting client headers).
	detected := http.DetectContentType(data)
	if !AllowedMIME[detected] {
		return nil, fmt.Errorf("unsupported image format: %s (only JPEG and PNG accepted)", detected)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	img = downscale(img, opts.MaxDimension)
	full, err := encode(img, opts.Quality)
	if err != nil {
		return nil, err
	}
	thumb, err := encode(downscale(img, opts.ThumbnailSize), opts.Quality)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	return &ProcessResult{
		Data:      full,
		Thumbnail: thumb,
		MIME:      "image/jpeg",
		Width:     b.Dx(),
		Height:    b.Dy(),
	}, nil
}

func encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// downscale resizes the image so neither dimension exceeds maxDim, using
// Catmull-Rom interpolation. Images already within bounds are returned as is.
func downscale(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	if w <= maxDim && h <= maxDim {
		return img
	}

	newW, newH := w, h
	if w > h {
		newW = maxDim
		newH = int(float64(h) * float64(maxDim) / float64(w))
	} else {
		newH = maxDim
		newW = int(float64(w) * float64(maxDim) / float64(h))
	}
	newW = max(newW, 1)
	newH = max(newH, 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func init() {
	image.RegisterFormat("jpeg", "\xff\xd8", jpeg.Decode, jpeg.DecodeConfig)
	image.RegisterFormat("png", "\x89PNG", png.Decode, png.DecodeConfig)
}
