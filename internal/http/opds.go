package http

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/koshelf/koshelf/internal/bookmeta"
	"github.com/koshelf/koshelf/internal/database/books"
	"github.com/koshelf/koshelf/internal/entities"
)

const (
	opdsContentType     = "application/atom+xml;profile=opds-catalog"
	opdsNavigationKind  = "application/atom+xml;profile=opds-catalog;kind=navigation"
	opdsAcquisitionKind = "application/atom+xml;profile=opds-catalog;kind=acquisition"
)

// OPDSController serves the Atom catalog feeds reader apps browse.
type OPDSController struct {
	books         *books.Repository
	pageSizeLimit int
}

func NewOPDSController(bookRepo *books.Repository, pageSizeLimit int) *OPDSController {
	return &OPDSController{books: bookRepo, pageSizeLimit: pageSizeLimit}
}

type opdsFeed struct {
	XMLName xml.Name    `xml:"feed"`
	XMLNS   string      `xml:"xmlns,attr"`
	ID      string      `xml:"id"`
	Title   string      `xml:"title"`
	Updated string      `xml:"updated"`
	Links   []opdsLink  `xml:"link"`
	Entries []opdsEntry `xml:"entry"`
}

type opdsLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

type opdsEntry struct {
	ID      string      `xml:"id"`
	Title   string      `xml:"title"`
	Updated string      `xml:"updated"`
	Author  *opdsAuthor `xml:"author,omitempty"`
	Summary string      `xml:"summary,omitempty"`
	Links   []opdsLink  `xml:"link"`
}

type opdsAuthor struct {
	Name string `xml:"name"`
}

// Root handles GET /opds, the navigation feed.
func (o *OPDSController) Root(c *gin.Context) {
	now := time.Now().UTC().Format(time.RFC3339)
	feed := opdsFeed{
		XMLNS:   "http://www.w3.org/2005/Atom",
		ID:      "urn:koshelf:catalog",
		Title:   "Koshelf Library",
		Updated: now,
		Links: []opdsLink{
			{Rel: "self", Href: "/opds", Type: opdsNavigationKind},
			{Rel: "start", Href: "/opds", Type: opdsNavigationKind},
		},
		Entries: []opdsEntry{
			{
				ID:      "urn:koshelf:catalog:all",
				Title:   "All Books",
				Updated: now,
				Links: []opdsLink{
					{Rel: "subsection", Href: "/opds/books", Type: opdsAcquisitionKind},
				},
			},
		},
	}
	writeFeed(c, feed)
}

// Books handles GET /opds/books, the acquisition feed.
func (o *OPDSController) Books(c *gin.Context) {
	page, size := parsePagination(c)

	list, total, err := o.books.List(books.ListOptions{
		Page:   page,
		Size:   size,
		Search: c.Query("search"),
	}, o.pageSizeLimit)
	if err != nil {
		respondInternalError(c, err, "opds list books")
		return
	}

	feed := opdsFeed{
		XMLNS:   "http://www.w3.org/2005/Atom",
		ID:      "urn:koshelf:catalog:all",
		Title:   "All Books",
		Updated: time.Now().UTC().Format(time.RFC3339),
		Links: []opdsLink{
			{Rel: "self", Href: c.Request.URL.RequestURI(), Type: opdsAcquisitionKind},
			{Rel: "start", Href: "/opds", Type: opdsNavigationKind},
		},
	}

	if int64(page*size) < total {
		feed.Links = append(feed.Links, opdsLink{
			Rel:  "next",
			Href: fmt.Sprintf("/opds/books?page=%d&size=%d", page+1, size),
			Type: opdsAcquisitionKind,
		})
	}

	for i := range list {
		feed.Entries = append(feed.Entries, bookEntry(&list[i]))
	}
	writeFeed(c, feed)
}

func bookEntry(book *entities.Book) opdsEntry {
	entry := opdsEntry{
		ID:      book.OPDSIdentifier(),
		Title:   book.DisplayTitle(),
		Updated: book.UpdatedAt.UTC().Format(time.RFC3339),
		Summary: book.Description,
		Links: []opdsLink{
			{
				Rel:  "http://opds-spec.org/acquisition",
				Href: fmt.Sprintf("/api/books/%d/download", book.ID),
				Type: bookmeta.MIMEType(book.Format),
			},
		},
	}
	if book.Author != "" {
		entry.Author = &opdsAuthor{Name: book.Author}
	}
	if book.HasCover() {
		entry.Links = append(entry.Links, opdsLink{
			Rel:  "http://opds-spec.org/image",
			Href: fmt.Sprintf("/api/books/%d/cover", book.ID),
			Type: book.CoverMimeType,
		})
	}
	return entry
}

func writeFeed(c *gin.Context, feed opdsFeed) {
	out, err := xml.MarshalIndent(feed, "", "  ")
	if err != nil {
		respondInternalError(c, err, "opds marshal")
		return
	}
	c.Data(http.StatusOK, opdsContentType, append([]byte(xml.Header), out...))
}
