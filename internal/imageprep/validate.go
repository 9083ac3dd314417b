package imageprep

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// ValidationResult describes whether a payload decodes and its geometry.
type ValidationResult struct {
	Valid       bool    `json:"valid"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	AspectRatio float64 `json:"aspectRatio,omitempty"`
	Format      string  `json:"format,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Metadata is the descriptive summary returned by GetMetadata.
type Metadata struct {
	ValidationResult
	SizeBytes      int          `json:"sizeBytes"`
	SizeLabel      string       `json:"sizeLabel"`
	MIMEType       string       `json:"mimeType,omitempty"`
	DominantColors []ColorCount `json:"dominantColors,omitempty"`
	CapturedAt     *time.Time   `json:"capturedAt,omitempty"`
	CameraMake     string       `json:"cameraMake,omitempty"`
	CameraModel    string       `json:"cameraModel,omitempty"`
}

// Validate decodes data and reports its dimensions. It never returns an
// error; failures are carried in the result.
func Validate(data []byte) ValidationResult {
	img, format, err := decode("validate", data)
	if err != nil {
		return ValidationResult{Valid: false, Error: err.Error()}
	}
	b := img.Bounds()
	res := ValidationResult{
		Valid:  true,
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: format,
	}
	if b.Dy() > 0 {
		res.AspectRatio = float64(b.Dx()) / float64(b.Dy())
	}
	return res
}

// GetMetadata combines Validate with a size estimate, the top three
// colours and any capture time recorded in the payload's EXIF block.
func GetMetadata(data []byte) Metadata {
	meta := Metadata{
		SizeBytes: len(data),
		SizeLabel: FormatSize(int64(len(data))),
	}

	img, format, err := decode("metadata", data)
	if err != nil {
		meta.ValidationResult = ValidationResult{Valid: false, Error: err.Error()}
		return meta
	}

	b := img.Bounds()
	meta.ValidationResult = ValidationResult{
		Valid:  true,
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: format,
	}
	if b.Dy() > 0 {
		meta.AspectRatio = float64(b.Dx()) / float64(b.Dy())
	}
	meta.MIMEType = MIMEType(format)
	meta.DominantColors = dominantColors(img, 3)

	if captured, camMake, camModel, err := CaptureInfo(data); err == nil {
		meta.CapturedAt = captured
		meta.CameraMake = camMake
		meta.CameraModel = camModel
	}
	return meta
}

// ErrNoCaptureInfo is returned by CaptureInfo when the payload has no
// usable EXIF block.
var ErrNoCaptureInfo = errors.New("no capture info")

// CaptureInfo reads the capture time and camera from EXIF, preferring
// DateTimeOriginal over CreateDate over ModifyDate.
func CaptureInfo(data []byte) (*time.Time, string, string, error) {
	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF metadata in payload")
		return nil, "", "", fmt.Errorf("%w: %w", ErrNoCaptureInfo, err)
	}

	var captured *time.Time
	for _, t := range []time.Time{exifData.DateTimeOriginal(), exifData.CreateDate(), exifData.ModifyDate()} {
		if !t.IsZero() {
			captured = &t
			break
		}
	}
	return captured, strings.TrimSpace(exifData.Make), strings.TrimSpace(exifData.Model), nil
}

// FormatSize renders a byte count for humans.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMG"[exp])
}
