package bookmeta

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"
)

// container.xml points at the OPF package document.
type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

// The subset of the OPF package document we care about. Dublin Core elements
// carry the bibliographic fields, the manifest locates the cover image.
type opfPackage struct {
	Metadata struct {
		Titles      []string  `xml:"title"`
		Creators    []string  `xml:"creator"`
		Publishers  []string  `xml:"publisher"`
		Languages   []string  `xml:"language"`
		Description string    `xml:"description"`
		Identifiers []string  `xml:"identifier"`
		Dates       []string  `xml:"date"`
		Metas       []opfMeta `xml:"meta"`
	} `xml:"metadata"`
	Manifest struct {
		Items []opfItem `xml:"item"`
	} `xml:"manifest"`
}

type opfMeta struct {
	Name    string `xml:"name,attr"`
	Content string `xml:"content,attr"`
}

type opfItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

func extractEPUB(r io.ReaderAt, size int64) (*Metadata, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open epub: %w", err)
	}

	opfPath, err := findRootfile(zr)
	if err != nil {
		return nil, err
	}

	var pkg opfPackage
	if err := unmarshalZipFile(zr, opfPath, &pkg); err != nil {
		return nil, fmt.Errorf("parse package document: %w", err)
	}

	meta := &Metadata{
		Title:         first(pkg.Metadata.Titles),
		Author:        strings.Join(compact(pkg.Metadata.Creators), ", "),
		Publisher:     first(pkg.Metadata.Publishers),
		Language:      first(pkg.Metadata.Languages),
		Description:   strings.TrimSpace(pkg.Metadata.Description),
		Identifier:    first(pkg.Metadata.Identifiers),
		PublishedDate: first(pkg.Metadata.Dates),
	}

	if href, mediaType := findCoverItem(&pkg); href != "" {
		coverPath := resolveHref(opfPath, href)
		if data, err := readZipFile(zr, coverPath); err == nil {
			meta.CoverImage = data
			meta.CoverMediaType = mediaType
		}
	}

	return meta, nil
}

func findRootfile(zr *zip.Reader) (string, error) {
	var container epubContainer
	if err := unmarshalZipFile(zr, "META-INF/container.xml", &container); err != nil {
		return "", fmt.Errorf("parse container.xml: %w", err)
	}
	for _, rf := range container.Rootfiles {
		if rf.FullPath != "" {
			return rf.FullPath, nil
		}
	}
	return "", fmt.Errorf("container.xml names no rootfile")
}

// findCoverItem locates the cover image through the EPUB 3 cover-image
// manifest property, falling back to the EPUB 2 <meta name="cover"> item
// reference.
func findCoverItem(pkg *opfPackage) (href, mediaType string) {
	for _, item := range pkg.Manifest.Items {
		if strings.Contains(item.Properties, "cover-image") {
			return item.Href, item.MediaType
		}
	}

	var coverID string
	for _, m := range pkg.Metadata.Metas {
		if m.Name == "cover" && m.Content != "" {
			coverID = m.Content
			break
		}
	}
	if coverID == "" {
		return "", ""
	}
	for _, item := range pkg.Manifest.Items {
		if item.ID == coverID && strings.HasPrefix(item.MediaType, "image/") {
			return item.Href, item.MediaType
		}
	}
	return "", ""
}

// resolveHref resolves a manifest href relative to the OPF's directory.
func resolveHref(opfPath, href string) string {
	return path.Join(path.Dir(opfPath), href)
}

func unmarshalZipFile(zr *zip.Reader, name string, v any) error {
	data, err := readZipFile(zr, name)
	if err != nil {
		return err
	}
	return xml.Unmarshal(data, v)
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func first(values []string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func compact(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
