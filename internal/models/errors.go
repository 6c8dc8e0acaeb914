package models

import "errors"

// Validation errors for models.
var (
	// ErrMediaIDRequired indicates a media item has no external identifier.
	ErrMediaIDRequired = errors.New("media_id is required")

	// ErrPathRequired indicates a media item has no file path.
	ErrPathRequired = errors.New("path is required")

	// ErrPathNotAbsolute indicates a media item path is relative.
	ErrPathNotAbsolute = errors.New("path must be absolute")

	// ErrNegativeTimestamp indicates a keyframe row holds a negative timestamp.
	ErrNegativeTimestamp = errors.New("keyframe timestamp must not be negative")
)
