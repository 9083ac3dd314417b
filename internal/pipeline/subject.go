package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/imageprep"
	"github.com/fpang/tryon-pipeline/internal/model"
)

// Subject photos are normalised to these bounds at registration.
const (
	SubjectMaxDimension = 1024
	subjectQuality      = 0.85
)

// RegisterSubjectPhoto validates and stores a new subject photo for userID.
// The capture time comes from EXIF when present, else the registration time.
func (c *Coordinator) RegisterSubjectPhoto(ctx context.Context, userID string, data []byte) (*model.SubjectPhoto, error) {
	if userID == "" {
		return nil, model.NewError(model.KindValidation, "register", "user id is required", nil)
	}
	check := imageprep.Validate(data)
	if !check.Valid {
		return nil, model.NewError(model.KindValidation, "register", "subject photo is invalid: "+check.Error, model.ErrImageLoad)
	}

	now := c.now().UTC()
	capturedAt := now
	if captured, _, _, err := imageprep.CaptureInfo(data); err == nil && captured != nil {
		capturedAt = captured.UTC()
	}

	normalized, mimeType, err := imageprep.Resize(data, SubjectMaxDimension, SubjectMaxDimension, subjectQuality)
	if err != nil {
		return nil, fmt.Errorf("normalize subject photo: %w", err)
	}

	photo := &model.SubjectPhoto{
		ID:           c.newID(),
		UserID:       userID,
		Data:         normalized,
		MIMEType:     mimeType,
		CapturedAt:   capturedAt,
		RegisteredAt: now,
	}
	if err := c.store.PutSubjectPhoto(ctx, photo); err != nil {
		return nil, fmt.Errorf("store subject photo: %w", err)
	}

	log.Info().
		Str("user_id", userID).
		Str("photo_id", photo.ID).
		Int("width", check.Width).
		Int("height", check.Height).
		Int("stored_bytes", len(normalized)).
		Msg("Subject photo registered")
	return photo, nil
}
