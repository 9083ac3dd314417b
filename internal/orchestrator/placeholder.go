package orchestrator

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/fpang/tryon-pipeline/internal/imageprep"
	"github.com/fpang/tryon-pipeline/internal/model"
)

// Placeholder dimensions.
const (
	PlaceholderWidth  = 512
	PlaceholderHeight = 640
	BadgeSize         = 256
	borderWidth       = 6
	lineHeight        = 18
)

var (
	gradientTop    = color.NRGBA{R: 0xEE, G: 0xF2, B: 0xF8, A: 0xFF}
	gradientBottom = color.NRGBA{R: 0xC3, G: 0xCF, B: 0xE2, A: 0xFF}
	frameColor     = color.NRGBA{R: 0x4A, G: 0x58, B: 0x6E, A: 0xFF}
	textColor      = color.NRGBA{R: 0x22, G: 0x2B, B: 0x38, A: 0xFF}
	barTrackColor  = color.NRGBA{R: 0xD9, G: 0xDE, B: 0xE6, A: 0xFF}
	barFillColor   = color.NRGBA{R: 0x3C, G: 0x8D, B: 0x5A, A: 0xFF}
)

// SynthesizePlaceholder renders the fallback try-on image: a vertical
// gradient, a framed border and a caption naming the garment category. The
// output is a PNG and is identical for identical inputs.
func SynthesizePlaceholder(width, height int, category string) ([]byte, error) {
	if width <= 2*borderWidth || height <= 2*borderWidth {
		return nil, fmt.Errorf("placeholder size %dx%d too small", width, height)
	}

	img := canvas(width, height)

	if category == "" {
		category = model.CategoryClothing
	}
	lines := []string{
		"Virtual try-on preview",
		"",
		"AI image unavailable",
		"Item: " + category,
		"",
		"Locally rendered placeholder",
		"Not AI-generated content",
	}
	top := height/2 - len(lines)*lineHeight/2
	for i, line := range lines {
		drawCentered(img, line, top+i*lineHeight)
	}

	return imageprep.EncodePNG(img)
}

// RenderConfidenceBadge renders a square thumbnail showing confidence as a
// percentage and a bar. confidence is clamped to [0,1].
func RenderConfidenceBadge(confidence float64) ([]byte, error) {
	confidence = model.Clamp01(confidence)
	pct := int(math.Round(confidence * 100))

	img := canvas(BadgeSize, BadgeSize)
	drawCentered(img, fmt.Sprintf("%d%%", pct), BadgeSize/2-lineHeight)
	drawCentered(img, "confidence", BadgeSize/2)

	barLeft, barRight := 2*borderWidth+16, BadgeSize-2*borderWidth-16
	barTop, barBottom := BadgeSize/2+2*lineHeight, BadgeSize/2+2*lineHeight+12
	draw.Draw(img, image.Rect(barLeft, barTop, barRight, barBottom), image.NewUniform(barTrackColor), image.Point{}, draw.Src)
	fill := barLeft + int(math.Round(float64(barRight-barLeft)*confidence))
	draw.Draw(img, image.Rect(barLeft, barTop, fill, barBottom), image.NewUniform(barFillColor), image.Point{}, draw.Src)

	return imageprep.EncodePNG(img)
}

// canvas returns a gradient-filled, bordered image.
func canvas(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		t := float64(y) / float64(max(height-1, 1))
		c := color.NRGBA{
			R: lerp(gradientTop.R, gradientBottom.R, t),
			G: lerp(gradientTop.G, gradientBottom.G, t),
			B: lerp(gradientTop.B, gradientBottom.B, t),
			A: 0xFF,
		}
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}

	frame := image.NewUniform(frameColor)
	draw.Draw(img, image.Rect(0, 0, width, borderWidth), frame, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, height-borderWidth, width, height), frame, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, 0, borderWidth, height), frame, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(width-borderWidth, 0, width, height), frame, image.Point{}, draw.Src)
	return img
}

// drawCentered writes s horizontally centred with its baseline at y.
func drawCentered(img *image.NRGBA, s string, y int) {
	if s == "" {
		return
	}
	face := basicfont.Face7x13
	w := font.MeasureString(face, s).Round()
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: face,
		Dot:  fixed.P((img.Bounds().Dx()-w)/2, y),
	}
	d.DrawString(s)
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}
