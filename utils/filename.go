package utils

import (
	"path/filepath"
	"regexp"
	"strings"
)

const maxFilenameLength = 255

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._\s-]`)

// SanitizeFilename reduces an uploaded name to its base name and strips
// everything except letters, digits, spaces and "._-". The result is at most
// 255 bytes and may be empty.
func SanitizeFilename(filename string) string {
	sanitized := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if sanitized == "." || sanitized == "/" {
		return ""
	}
	sanitized = strings.ReplaceAll(sanitized, "..", "")
	sanitized = unsafeFilenameChars.ReplaceAllString(sanitized, "")
	sanitized = strings.Trim(sanitized, " .")
	if len(sanitized) > maxFilenameLength {
		sanitized = sanitized[:maxFilenameLength]
	}
	return sanitized
}

// TitleFromFilename derives a display title from a file name: the extension
// is dropped and separators become spaces.
func TitleFromFilename(filename string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}
