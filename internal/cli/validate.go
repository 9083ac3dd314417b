package cli

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/model"
)

// ReadImageFile checks that path is a regular file and returns its absolute
// path and contents.
func ReadImageFile(path string) (string, []byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, model.NewError(model.KindValidation, "file", "file not found: "+path, err)
		}
		return "", nil, model.NewError(model.KindValidation, "file", "failed to access "+path, err)
	}
	if info.IsDir() {
		return "", nil, model.NewError(model.KindValidation, "file", path+" is a directory", nil)
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, model.NewError(model.KindValidation, "file", "failed to read "+path, err)
	}
	return path, data, nil
}

// Exit codes by error kind.
const (
	ExitOK = iota
	ExitFailure
	ExitConfiguration
	ExitValidation
	ExitNetwork
	ExitSafety
)

// ExitCode maps err onto a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	kind, ok := model.KindOf(err)
	if !ok {
		return ExitFailure
	}
	switch kind {
	case model.KindConfiguration:
		return ExitConfiguration
	case model.KindValidation:
		return ExitValidation
	case model.KindNetwork:
		return ExitNetwork
	case model.KindSafetyRejection:
		return ExitSafety
	default:
		return ExitFailure
	}
}

// HandleError logs err with a hint for its kind and returns the exit code.
func HandleError(err error) int {
	kind, ok := model.KindOf(err)
	switch {
	case !ok:
		log.Error().Err(err).Msg("Command failed")
	case kind == model.KindConfiguration:
		log.Error().Err(err).Msg("Configuration problem. Set GEMINI_API_KEY or run scripts/setup-gpg-credentials.sh")
	case kind == model.KindValidation:
		log.Error().Err(err).Msg("Invalid input")
	case kind == model.KindNetwork:
		log.Error().Err(err).Msg("Network error. Please check your internet connection or try again later")
	case kind == model.KindSafetyRejection:
		log.Warn().Err(err).Msg("Request rejected by content safety screening")
	default:
		log.Error().Err(err).Msg("Command failed")
	}
	return ExitCode(err)
}
