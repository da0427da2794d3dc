package validation

import (
	"bytes"
	"path/filepath"
	"strings"
)

type FontType string

const (
	FontTypeTTF   FontType = "ttf"
	FontTypeOTF   FontType = "otf"
	FontTypeWOFF  FontType = "woff"
	FontTypeWOFF2 FontType = "woff2"
	FontTypeTTC   FontType = "ttc"
)

var magicBytes = map[FontType][]byte{
	FontTypeTTF:   {0x00, 0x01, 0x00, 0x00},
	FontTypeOTF:   []byte("OTTO"),
	FontTypeWOFF:  []byte("wOFF"),
	FontTypeWOFF2: []byte("wOF2"),
	FontTypeTTC:   []byte("ttcf"),
}

var extensions = map[string]FontType{
	".ttf":   FontTypeTTF,
	".otf":   FontTypeOTF,
	".woff":  FontTypeWOFF,
	".woff2": FontTypeWOFF2,
	".ttc":   FontTypeTTC,
}

// DetectFontType sniffs the leading bytes of an upload.
func DetectFontType(data []byte) (FontType, error) {
	for fontType, signature := range magicBytes {
		if bytes.HasPrefix(data, signature) {
			return fontType, nil
		}
	}
	return "", ErrInvalidFileType
}

// TypeForFilename resolves the allow-listed font type for a filename.
func TypeForFilename(filename string) (FontType, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	fontType, ok := extensions[ext]
	if !ok {
		return "", ErrUnsupportedFormat
	}
	return fontType, nil
}

// CheckUpload runs every synchronous upload check: filename, extension
// allow-list, size bounds, and a magic-byte match against the extension.
func CheckUpload(filename string, data []byte, minSize, maxSize int64) error {
	if filename == "" {
		return ErrEmptyFilename
	}
	declared, err := TypeForFilename(filename)
	if err != nil {
		return err
	}
	size := int64(len(data))
	if size < minSize {
		return ErrFileTooSmall
	}
	if size > maxSize {
		return ErrFileTooLarge
	}
	detected, err := DetectFontType(data)
	if err != nil {
		return err
	}
	if detected != declared {
		return ErrExtensionMismatch
	}
	return nil
}

// SanitizeFilename strips any path components from a client filename.
// Windows clients send backslash separators, so those are normalized too.
func SanitizeFilename(filename string) string {
	return filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
}
