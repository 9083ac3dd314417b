package cli

import (
	"errors"

	"github.com/ncruces/zenity"

	"github.com/fpang/tryon-pipeline/internal/model"
)

// imagePatterns are the file types offered by the picker.
var imagePatterns = []string{"*.jpg", "*.jpeg", "*.png", "*.gif", "*.webp", "*.bmp"}

// PickImageFile opens a native file picker titled title. Cancelling the
// dialog is a validation error.
func PickImageFile(title string) (string, error) {
	selected, err := zenity.SelectFile(
		zenity.Title(title),
		zenity.FileFilters{
			{Name: "Images", Patterns: imagePatterns},
		},
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return "", model.NewError(model.KindValidation, "file", "no file selected", err)
		}
		return "", model.NewError(model.KindConfiguration, "file", "file picker unavailable, pass the path as a flag", err)
	}
	return selected, nil
}
