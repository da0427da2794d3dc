package validation

import "errors"

var (
	ErrNoFile            = errors.New("no font file provided")
	ErrEmptyFilename     = errors.New("empty filename")
	ErrInvalidFileType   = errors.New("unrecognized font format")
	ErrUnsupportedFormat = errors.New("unsupported file extension")
	ErrExtensionMismatch = errors.New("file extension does not match content")
	ErrFileTooLarge      = errors.New("file exceeds the upload size limit")
	ErrFileTooSmall      = errors.New("file is too small to be a valid font")
	ErrMalformedOptions  = errors.New("options payload is not a JSON object")
)
