package pipeline

import (
	"context"
	"encoding/base64"
	"image"
	"io"
	"net/http"
	"strings"

	"github.com/fpang/tryon-pipeline/internal/imageprep"
	"github.com/fpang/tryon-pipeline/internal/model"
)

// ImageData is the inbound image payload. Exactly one field is used, in
// the order Base64, RawPixels, URL.
type ImageData struct {
	URL       string     `json:"url,omitempty"`
	Base64    string     `json:"base64,omitempty"`
	RawPixels *RawPixels `json:"rawPixels,omitempty"`
}

// RawPixels is an uncompressed RGBA buffer, four bytes per pixel.
type RawPixels struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []byte `json:"data"`
}

// Empty reports whether no payload was supplied.
func (d ImageData) Empty() bool {
	return d.URL == "" && d.Base64 == "" && d.RawPixels == nil
}

// Fetcher resolves ImageData into encoded image bytes and a MIME type.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher. A nil client selects http.DefaultClient.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client}
}

// Resolve returns the encoded bytes of d.
func (f *Fetcher) Resolve(ctx context.Context, d ImageData) ([]byte, string, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case d.Base64 != "":
		data, err = decodeBase64Image(d.Base64)
	case d.RawPixels != nil:
		data, err = encodeRawPixels(d.RawPixels)
	case d.URL != "":
		if strings.HasPrefix(d.URL, "data:") {
			data, err = decodeBase64Image(d.URL)
		} else {
			data, err = f.download(ctx, d.URL)
		}
	default:
		return nil, "", model.NewError(model.KindValidation, "image", "image data is required", nil)
	}
	if err != nil {
		return nil, "", err
	}

	format, err := imageprep.DetectFormat(data)
	if err != nil {
		return nil, "", err
	}
	return data, imageprep.MIMEType(format), nil
}

// decodeBase64Image accepts plain base64 or a data URI.
func decodeBase64Image(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		_, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, model.NewError(model.KindValidation, "image", "malformed data URI", model.ErrImageLoad)
		}
		s = payload
	}
	s = strings.TrimSpace(s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, model.NewError(model.KindValidation, "image", "invalid base64 image data", err)
	}
	return data, nil
}

func encodeRawPixels(raw *RawPixels) ([]byte, error) {
	if raw.Width <= 0 || raw.Height <= 0 || len(raw.Data) != raw.Width*raw.Height*4 {
		return nil, model.Errorf(model.KindValidation, "image",
			"raw pixels: want %dx%dx4 bytes, got %d", raw.Width, raw.Height, len(raw.Data))
	}
	img := &image.NRGBA{
		Pix:    raw.Data,
		Stride: raw.Width * 4,
		Rect:   image.Rect(0, 0, raw.Width, raw.Height),
	}
	return imageprep.EncodePNG(img)
}

// download fetches url into memory, bounded by the decode payload limit.
func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, model.NewError(model.KindValidation, "image", "invalid image URL", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, model.NewError(model.KindNetwork, "image", "image download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.Errorf(model.KindNetwork, "image", "image download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, imageprep.MaxPayloadBytes+1))
	if err != nil {
		return nil, model.NewError(model.KindNetwork, "image", "read image body", err)
	}
	if len(data) > imageprep.MaxPayloadBytes {
		return nil, model.Errorf(model.KindValidation, "image", "downloaded image exceeds %d bytes", imageprep.MaxPayloadBytes)
	}
	return data, nil
}

// pixelRegion converts a detected bounding box into a crop region of a
// width x height image. Boxes with all values in [0,1] are treated as
// fractions of the image size.
func pixelRegion(box map[string]float64, width, height int) (imageprep.Region, bool) {
	x, y, w, h := box["x"], box["y"], box["width"], box["height"]
	if w <= 0 || h <= 0 {
		return imageprep.Region{}, false
	}
	if x <= 1 && y <= 1 && w <= 1 && h <= 1 {
		x, w = x*float64(width), w*float64(width)
		y, h = y*float64(height), h*float64(height)
	}
	r := imageprep.Region{X: int(x), Y: int(y), Width: int(w), Height: int(h)}
	if r.X+r.Width > width {
		r.Width = width - r.X
	}
	if r.Y+r.Height > height {
		r.Height = height - r.Y
	}
	if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 {
		return imageprep.Region{}, false
	}
	return r, true
}

// describeItem builds a garment description from detected attributes.
func describeItem(item model.DetectedItem) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{item.Color, item.Style, item.Type} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
