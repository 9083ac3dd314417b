// Package imageprep implements the pixel-level preparation routines used
// before and after generation: resize, crop, enhance, palette extraction and
// validation.
//
// Every exported function takes an encoded payload and returns a freshly
// encoded payload. Inputs are never mutated and no state is shared between
// calls.
package imageprep

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/fpang/tryon-pipeline/internal/model"
)

// DecodeTimeout is the fixed client-side limit for decoding a payload.
const DecodeTimeout = 10 * time.Second

// MaxPayloadBytes is the largest payload accepted for decoding.
const MaxPayloadBytes = 20 << 20

// DefaultQuality is the lossy-encoding quality used when none is given.
const DefaultQuality = 0.92

// decodeResult carries the outcome of a background decode.
type decodeResult struct {
	img    image.Image
	format string
	err    error
}

// decode decodes data, giving up after DecodeTimeout.
func decode(op string, data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", model.NewError(model.KindValidation, op, "empty image payload", model.ErrImageLoad)
	}
	if len(data) > MaxPayloadBytes {
		return nil, "", model.Errorf(model.KindValidation, op, "image payload of %d bytes exceeds limit of %d bytes", len(data), MaxPayloadBytes)
	}

	done := make(chan decodeResult, 1)
	go func() {
		img, format, err := image.Decode(bytes.NewReader(data))
		done <- decodeResult{img: img, format: format, err: err}
	}()

	timer := time.NewTimer(DecodeTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, "", model.NewError(model.KindValidation, op, "failed to decode image", fmt.Errorf("%w: %w", model.ErrImageLoad, res.err))
		}
		return res.img, res.format, nil
	case <-timer.C:
		return nil, "", model.NewError(model.KindValidation, op, "image decode timed out", model.ErrImageLoad)
	}
}

// toNRGBA copies img into a new non-premultiplied RGBA buffer anchored at (0,0).
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// cloneNRGBA returns a deep copy of src.
func cloneNRGBA(src *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}

// encode writes img as PNG when the source was PNG or GIF (to keep
// transparency) and as JPEG at the given quality otherwise.
func encode(img image.Image, format string, quality float64) ([]byte, string, error) {
	var buf bytes.Buffer
	switch format {
	case "png", "gif":
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("failed to encode PNG: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	default:
		q := int(quality*100 + 0.5)
		if q < 1 {
			q = 1
		}
		if q > 100 {
			q = 100
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, "", fmt.Errorf("failed to encode JPEG: %w", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	}
}

// EncodePNG encodes img losslessly. Used for locally rendered graphics.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// MIMEType maps a decoder format name to its media type.
func MIMEType(format string) string {
	switch format {
	case "":
		return "application/octet-stream"
	case "jpeg":
		return "image/jpeg"
	default:
		return "image/" + format
	}
}

// DetectFormat returns the encoding format of data without decoding pixels.
func DetectFormat(data []byte) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", model.NewError(model.KindValidation, "detect format", "unrecognised image encoding", fmt.Errorf("%w: %w", model.ErrImageLoad, err))
	}
	return format, nil
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
