package imageprep

import (
	"image"
	"math"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"

	"github.com/fpang/tryon-pipeline/internal/model"
)

// CalculateDimensions returns the largest size that fits within
// maxWidth x maxHeight while preserving the aspect ratio of width x height.
// Images already inside the bounds keep their size.
func CalculateDimensions(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= maxWidth && height <= maxHeight {
		return width, height
	}

	scale := math.Min(float64(maxWidth)/float64(width), float64(maxHeight)/float64(height))
	newWidth := int(math.Round(float64(width) * scale))
	newHeight := int(math.Round(float64(height) * scale))

	newWidth = max(1, min(newWidth, maxWidth))
	newHeight = max(1, min(newHeight, maxHeight))
	return newWidth, newHeight
}

// Resize re-samples data so that neither dimension exceeds its bound.
// quality is the lossy-encoding parameter in (0,1].
func Resize(data []byte, maxWidth, maxHeight int, quality float64) ([]byte, string, error) {
	if maxWidth <= 0 || maxHeight <= 0 {
		return nil, "", model.Errorf(model.KindValidation, "resize", "bounds must be positive, got %dx%d", maxWidth, maxHeight)
	}
	if quality <= 0 || quality > 1 {
		return nil, "", model.Errorf(model.KindValidation, "resize", "quality must be in (0,1], got %v", quality)
	}

	img, format, err := decode("resize", data)
	if err != nil {
		return nil, "", err
	}

	b := img.Bounds()
	newWidth, newHeight := CalculateDimensions(b.Dx(), b.Dy(), maxWidth, maxHeight)
	resized := scale(img, newWidth, newHeight)

	log.Debug().
		Int("orig_width", b.Dx()).
		Int("orig_height", b.Dy()).
		Int("new_width", newWidth).
		Int("new_height", newHeight).
		Msg("Image resized")

	return encode(resized, format, quality)
}

// scale re-samples img into a new width x height buffer using Catmull-Rom.
func scale(img image.Image, width, height int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// boundLongEdge scales img down so its longer edge is at most maxDimension.
func boundLongEdge(img *image.NRGBA, maxDimension int) *image.NRGBA {
	b := img.Bounds()
	if maxDimension <= 0 || (b.Dx() <= maxDimension && b.Dy() <= maxDimension) {
		return img
	}
	w, h := CalculateDimensions(b.Dx(), b.Dy(), maxDimension, maxDimension)
	return scale(img, w, h)
}
