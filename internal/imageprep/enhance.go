package imageprep

import (
	"image"
	"math"

	"github.com/rs/zerolog/log"
)

// AIMaxDimension is the long-edge bound applied when preparing images for
// the generation service.
const AIMaxDimension = 2048

// EnhanceOptions controls Enhance. Brightness, Contrast and Saturation are
// fractional deltas, so the zero value leaves pixels untouched.
type EnhanceOptions struct {
	MaxDimension     int
	Brightness       float64
	Contrast         float64
	Saturation       float64
	Sharpen          bool
	Denoise          bool
	AdaptiveContrast bool
	Quality          float64
}

// AIPreparationOptions returns the enhancement applied to subject and
// garment images before generation.
func AIPreparationOptions(highQuality bool) EnhanceOptions {
	opts := EnhanceOptions{
		MaxDimension: AIMaxDimension,
		Contrast:     0.05,
		Saturation:   0.05,
		Sharpen:      true,
		Quality:      DefaultQuality,
	}
	if highQuality {
		opts.Denoise = true
		opts.AdaptiveContrast = true
		opts.Quality = 0.95
	}
	return opts
}

// Kernel is a 3x3 convolution matrix indexed [row][column].
type Kernel [3][3]float64

// SharpenKernel is a normalised edge-enhancing kernel. Its weights sum to 1
// so flat regions keep their value.
var SharpenKernel = Kernel{
	{-0.25, -1, -0.25},
	{-1, 6, -1},
	{-0.25, -1, -0.25},
}

// SmoothKernel is a 3x3 Gaussian approximation used for denoising.
var SmoothKernel = Kernel{
	{1.0 / 16, 2.0 / 16, 1.0 / 16},
	{2.0 / 16, 4.0 / 16, 2.0 / 16},
	{1.0 / 16, 2.0 / 16, 1.0 / 16},
}

// Enhance applies, in order: long-edge bounding, linear brightness,
// contrast and saturation, optional sharpening, optional denoising and an
// optional adaptive contrast curve.
func Enhance(data []byte, opts EnhanceOptions) ([]byte, string, error) {
	img, format, err := decode("enhance", data)
	if err != nil {
		return nil, "", err
	}

	pix := boundLongEdge(toNRGBA(img), opts.MaxDimension)
	pix = adjustLinear(pix, opts.Brightness, opts.Contrast, opts.Saturation)
	if opts.Sharpen {
		pix = Convolve(pix, SharpenKernel)
	}
	if opts.Denoise {
		pix = Convolve(pix, SmoothKernel)
	}
	if opts.AdaptiveContrast {
		pix = AdaptiveContrast(pix)
	}

	quality := opts.Quality
	if quality <= 0 || quality > 1 {
		quality = DefaultQuality
	}

	log.Debug().
		Int("width", pix.Bounds().Dx()).
		Int("height", pix.Bounds().Dy()).
		Bool("sharpen", opts.Sharpen).
		Bool("denoise", opts.Denoise).
		Bool("adaptive_contrast", opts.AdaptiveContrast).
		Msg("Image enhanced")

	return encode(pix, format, quality)
}

func luminance(r, g, b float64) float64 {
	return 0.299*r + 0.587*g + 0.114*b
}

// adjustLinear applies brightness, contrast and saturation deltas.
func adjustLinear(src *image.NRGBA, brightness, contrast, saturation float64) *image.NRGBA {
	if brightness == 0 && contrast == 0 && saturation == 0 {
		return src
	}

	dst := cloneNRGBA(src)
	bf, cf, sf := 1+brightness, 1+contrast, 1+saturation
	for i := 0; i+3 < len(dst.Pix); i += 4 {
		var ch [3]float64
		for c := 0; c < 3; c++ {
			v := float64(dst.Pix[i+c]) * bf
			ch[c] = (v-128)*cf + 128
		}
		gray := luminance(ch[0], ch[1], ch[2])
		for c := 0; c < 3; c++ {
			dst.Pix[i+c] = clamp8(gray + (ch[c]-gray)*sf)
		}
	}
	return dst
}

// Convolve applies k to the colour channels of every interior pixel of src.
// Border pixels are copied unchanged, alpha is preserved and results are
// clamped to [0,255]. src is not modified.
func Convolve(src *image.NRGBA, k Kernel) *image.NRGBA {
	dst := cloneNRGBA(src)
	b := src.Bounds()

	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			out := dst.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				var sum float64
				for ky := -1; ky <= 1; ky++ {
					for kx := -1; kx <= 1; kx++ {
						off := src.PixOffset(x+kx, y+ky)
						sum += float64(src.Pix[off+c]) * k[ky+1][kx+1]
					}
				}
				dst.Pix[out+c] = clamp8(sum)
			}
		}
	}
	return dst
}

// SCurve is the adaptive contrast tone curve for a normalised luminance:
// 2x² below the midpoint and 1-2(1-x)² above it.
func SCurve(x float64) float64 {
	if x < 0.5 {
		return 2 * x * x
	}
	return 1 - 2*(1-x)*(1-x)
}

// AdaptiveContrast remaps each pixel's luminance through SCurve, scaling
// its colour channels by the same factor. Alpha is preserved.
func AdaptiveContrast(src *image.NRGBA) *image.NRGBA {
	dst := cloneNRGBA(src)
	for i := 0; i+3 < len(dst.Pix); i += 4 {
		r, g, bl := float64(dst.Pix[i]), float64(dst.Pix[i+1]), float64(dst.Pix[i+2])
		lum := luminance(r, g, bl)
		factor := SCurve(lum/255) * 255 / math.Max(lum, 1)
		dst.Pix[i] = clamp8(r * factor)
		dst.Pix[i+1] = clamp8(g * factor)
		dst.Pix[i+2] = clamp8(bl * factor)
	}
	return dst
}
