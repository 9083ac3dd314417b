package imageprep

import (
	"fmt"
	"image"
	"sort"

	"golang.org/x/image/draw"
)

// paletteGrid is the side of the square grid images are sampled onto
// before counting colours.
const paletteGrid = 100

// alphaThreshold is the minimum alpha a sampled pixel needs to be counted.
const alphaThreshold = 128

// ColorCount is one entry of a dominant-colour palette.
type ColorCount struct {
	Hex   string `json:"hex"`
	R     uint8  `json:"r"`
	G     uint8  `json:"g"`
	B     uint8  `json:"b"`
	Count int    `json:"count"`
}

// ExtractColors returns up to k of the most frequent opaque colours in
// data, most frequent first. Ties are broken by hex value.
func ExtractColors(data []byte, k int) ([]ColorCount, error) {
	img, _, err := decode("extract colors", data)
	if err != nil {
		return nil, err
	}
	return dominantColors(img, k), nil
}

func dominantColors(img image.Image, k int) []ColorCount {
	if k <= 0 {
		return []ColorCount{}
	}

	b := img.Bounds()
	w, h := min(b.Dx(), paletteGrid), min(b.Dy(), paletteGrid)
	grid := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(grid, grid.Bounds(), img, b, draw.Src, nil)

	counts := make(map[[3]uint8]int)
	for i := 0; i+3 < len(grid.Pix); i += 4 {
		if grid.Pix[i+3] <= alphaThreshold {
			continue
		}
		counts[[3]uint8{grid.Pix[i], grid.Pix[i+1], grid.Pix[i+2]}]++
	}

	palette := make([]ColorCount, 0, len(counts))
	for rgb, n := range counts {
		palette = append(palette, ColorCount{
			Hex:   fmt.Sprintf("#%02x%02x%02x", rgb[0], rgb[1], rgb[2]),
			R:     rgb[0],
			G:     rgb[1],
			B:     rgb[2],
			Count: n,
		})
	}
	sort.Slice(palette, func(i, j int) bool {
		if palette[i].Count != palette[j].Count {
			return palette[i].Count > palette[j].Count
		}
		return palette[i].Hex < palette[j].Hex
	})

	if len(palette) > k {
		palette = palette[:k]
	}
	return palette
}
