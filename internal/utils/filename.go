package utils

import (
	"regexp"
	"strings"
)

var (
	// Characters invalid in filenames on most filesystems
	invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	// Control and whitespace characters to normalize
	whitespaceChars = regexp.MustCompile(`[\x00-\x1f\r\n\t]`)
	// Multiple spaces to collapse
	multipleSpaces = regexp.MustCompile(`\s+`)
)

// SanitizeFilename cleans a client-supplied filename before it is stored or
// echoed back in a Content-Disposition header. Multipart filenames can carry
// path separators, control characters and header-breaking quotes; none of
// them survive.
func SanitizeFilename(filename string) string {
	// Drop any directory components, whichever separator the client used.
	if idx := strings.LastIndexAny(filename, `/\`); idx >= 0 {
		filename = filename[idx+1:]
	}

	filename = whitespaceChars.ReplaceAllString(filename, " ")
	filename = invalidFilenameChars.ReplaceAllString(filename, "")
	filename = multipleSpaces.ReplaceAllString(filename, " ")
	filename = strings.TrimSpace(filename)

	// Leave room for an extension; most filesystems cap names at 255 bytes.
	if len(filename) > 200 {
		ext := extensionOf(filename)
		base := filename[:200-len(ext)]
		filename = strings.TrimSpace(base) + ext
	}

	if filename == "" || filename == "." || filename == ".." {
		filename = "untitled"
	}
	return filename
}

// KnownBookExtensions lists the multi-part and single extensions seen on
// e-book files, longest first so ".fb2.zip" wins over ".zip".
var KnownBookExtensions = []string{
	".fb2.zip",
	".tar.gz",
	".fb2",
	".epub",
	".pdf",
	".txt",
	".mobi",
	".azw3",
	".azw",
	".djvu",
	".cbz",
	".cbr",
}

func extensionOf(filename string) string {
	lower := strings.ToLower(filename)
	for _, ext := range KnownBookExtensions {
		if strings.HasSuffix(lower, ext) {
			return filename[len(filename)-len(ext):]
		}
	}
	if idx := strings.LastIndex(filename, "."); idx > 0 {
		return filename[idx:]
	}
	return ""
}

// TitleFromFilename derives a fallback title for files whose metadata carries
// none: the extension goes, underscores become spaces.
func TitleFromFilename(filename string) string {
	ext := extensionOf(filename)
	title := strings.TrimSuffix(filename, ext)
	title = strings.ReplaceAll(title, "_", " ")
	title = multipleSpaces.ReplaceAllString(title, " ")
	return strings.TrimSpace(title)
}
