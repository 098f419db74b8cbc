// Package bookmeta extracts bibliographic metadata from uploaded book files.
// EPUB metadata comes from the OPF package document, PDF metadata from the
// document information dictionary. Extraction is best-effort: a file that
// yields no metadata is still a valid book, the caller falls back to the
// upload filename.
package bookmeta

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
)

var ErrUnsupportedFormat = errors.New("unsupported book format")

// Supported format identifiers, stored on the book record and used to pick
// MIME types for downloads and OPDS entries.
const (
	FormatEPUB = "epub"
	FormatPDF  = "pdf"
)

// Metadata holds the fields extraction can recover from a book file.
// Any field may be empty.
type Metadata struct {
	Title          string
	Author         string
	Publisher      string
	Language       string
	Description    string
	Identifier     string
	PublishedDate  string
	PageCount      int
	CoverImage     []byte
	CoverMediaType string
}

// DetectFormat decides the book format from the filename extension and the
// file's leading bytes. The sniff wins over the extension when they disagree:
// a PDF renamed to .epub is still a PDF.
func DetectFormat(filename string, sniff []byte) string {
	if len(sniff) >= 4 {
		switch {
		case string(sniff[:4]) == "%PDF":
			return FormatPDF
		case sniff[0] == 'P' && sniff[1] == 'K' && sniff[2] == 0x03 && sniff[3] == 0x04:
			return FormatEPUB
		}
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FormatPDF
	case ".epub":
		return FormatEPUB
	}
	return ""
}

// MIMEType returns the content type for a stored format.
func MIMEType(format string) string {
	switch format {
	case FormatEPUB:
		return "application/epub+zip"
	case FormatPDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

// Extract parses metadata from a book file of the given format.
func Extract(r io.ReaderAt, size int64, format string) (*Metadata, error) {
	switch format {
	case FormatEPUB:
		return extractEPUB(r, size)
	case FormatPDF:
		return extractPDF(r, size)
	}
	return nil, ErrUnsupportedFormat
}
