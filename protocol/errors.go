package protocol

import "errors"

var (
	// ErrTruncated indicates a message or frame ended mid-field.
	ErrTruncated = errors.New("protocol: truncated message")
	// ErrFrameTooLarge indicates a frame length prefix exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds max size")
	// ErrMissingType indicates an envelope without a type field.
	ErrMissingType = errors.New("protocol: envelope missing type")
)
