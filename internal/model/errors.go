package model

import (
	"errors"
	"fmt"
)

// ErrorKind categorises pipeline failures.
type ErrorKind int

const (
	// KindConfiguration is a missing or invalid credential or setting.
	KindConfiguration ErrorKind = iota
	// KindValidation is an oversized or undecodable image or an invalid region.
	KindValidation
	// KindNetwork is a transport or service failure.
	KindNetwork
	// KindParse is a structured-response decode failure.
	KindParse
	// KindSafetyRejection is an explicit reject verdict from the safety check.
	KindSafetyRejection
	// KindNoImageData means the service returned no binary image.
	KindNoImageData
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindParse:
		return "parse"
	case KindSafetyRejection:
		return "safety_rejection"
	case KindNoImageData:
		return "no_image_data"
	}
	return "unknown"
}

// Sentinel causes wrapped by validation errors.
var (
	ErrImageLoad     = errors.New("image could not be decoded")
	ErrInvalidRegion = errors.New("crop region exceeds image bounds")
)

// Error is a categorised pipeline error.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Errorf builds an Error with a formatted message and no cause.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether any error in err's chain is an *Error of kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
