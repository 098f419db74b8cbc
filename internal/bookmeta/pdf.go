package bookmeta

import (
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF reads the document information dictionary and page count.
// The pdf library panics on some malformed files, so the whole extraction
// runs under a recover.
func extractPDF(r io.ReaderAt, size int64) (meta *Metadata, err error) {
	defer func() {
		if p := recover(); p != nil {
			meta = nil
			err = fmt.Errorf("parse pdf: %v", p)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	meta = &Metadata{
		PageCount: reader.NumPage(),
	}

	info := reader.Trailer().Key("Info")
	if info.Kind() == pdf.Dict {
		meta.Title = pdfString(info.Key("Title"))
		meta.Author = pdfString(info.Key("Author"))
		meta.Publisher = pdfString(info.Key("Producer"))
		meta.Description = pdfString(info.Key("Subject"))
		meta.PublishedDate = parsePDFDate(pdfString(info.Key("CreationDate")))
	}

	return meta, nil
}

func pdfString(v pdf.Value) string {
	if v.Kind() != pdf.String && v.Kind() != pdf.Name {
		return ""
	}
	return strings.TrimSpace(v.Text())
}

// parsePDFDate turns the "D:YYYYMMDDHHmmSS..." info-dictionary format into
// an ISO-ish date. Only the date portion is kept.
func parsePDFDate(raw string) string {
	raw = strings.TrimPrefix(raw, "D:")
	if len(raw) < 8 {
		return ""
	}
	year, month, day := raw[0:4], raw[4:6], raw[6:8]
	for _, part := range []string{year, month, day} {
		for _, c := range part {
			if c < '0' || c > '9' {
				return ""
			}
		}
	}
	return year + "-" + month + "-" + day
}
