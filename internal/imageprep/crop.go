package imageprep

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/fpang/tryon-pipeline/internal/model"
)

// Region is a rectangle in source pixel coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Crop extracts region from data. A region that is empty or reaches
// outside the source bounds fails with a validation error wrapping
// model.ErrInvalidRegion.
func Crop(data []byte, region Region) ([]byte, string, error) {
	img, format, err := decode("crop", data)
	if err != nil {
		return nil, "", err
	}

	b := img.Bounds()
	if region.X < 0 || region.Y < 0 || region.Width <= 0 || region.Height <= 0 ||
		region.X+region.Width > b.Dx() || region.Y+region.Height > b.Dy() {
		return nil, "", model.NewError(model.KindValidation, "crop",
			"region does not fit the source image", model.ErrInvalidRegion)
	}

	src := image.Rect(region.X, region.Y, region.X+region.Width, region.Y+region.Height).Add(b.Min)
	dst := image.NewNRGBA(image.Rect(0, 0, region.Width, region.Height))
	draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)

	return encode(dst, format, DefaultQuality)
}
