package http

import (
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fetchFeed(t *testing.T, ts *testServer, url string) opdsFeed {
	t.Helper()
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/atom+xml")

	var feed opdsFeed
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &feed))
	return feed
}

func TestOPDSRoot(t *testing.T) {
	ts := newTestServer(t)

	feed := fetchFeed(t, ts, "/opds")
	assert.Equal(t, "Koshelf Library", feed.Title)
	require.Len(t, feed.Entries, 1)
	assert.Equal(t, "All Books", feed.Entries[0].Title)
	require.NotEmpty(t, feed.Entries[0].Links)
	assert.Equal(t, "/opds/books", feed.Entries[0].Links[0].Href)
}

func TestOPDSBooksFeed(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createAPIUser(t, "reader", "pass", false)

	epub := minimalEPUB(t, "The Time Machine", "H. G. Wells")
	rec := ts.do(t, multipartUpload(t, "/api/books", "tm.epub", epub, token))
	require.Equal(t, http.StatusCreated, rec.Code)

	feed := fetchFeed(t, ts, "/opds/books")
	require.Len(t, feed.Entries, 1)

	entry := feed.Entries[0]
	assert.Equal(t, "The Time Machine", entry.Title)
	require.NotNil(t, entry.Author)
	assert.Equal(t, "H. G. Wells", entry.Author.Name)

	var acq *opdsLink
	for i := range entry.Links {
		if entry.Links[i].Rel == "http://opds-spec.org/acquisition" {
			acq = &entry.Links[i]
		}
	}
	require.NotNil(t, acq)
	assert.Equal(t, "application/epub+zip", acq.Type)
}

func TestOPDSPagination(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createAPIUser(t, "reader", "pass", false)

	titles := []string{"Alpha", "Beta", "Gamma"}
	for _, title := range titles {
		epub := minimalEPUB(t, title, "Author")
		rec := ts.do(t, multipartUpload(t, "/api/books", title+".epub", epub, token))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	feed := fetchFeed(t, ts, "/opds/books?page=1&size=2")
	assert.Len(t, feed.Entries, 2)

	var next string
	for _, l := range feed.Links {
		if l.Rel == "next" {
			next = l.Href
		}
	}
	require.NotEmpty(t, next)

	feed = fetchFeed(t, ts, next)
	assert.Len(t, feed.Entries, 1)
}

func TestOPDSSearch(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createAPIUser(t, "reader", "pass", false)

	for _, b := range []struct{ title, author string }{
		{"Dracula", "Bram Stoker"},
		{"Emma", "Jane Austen"},
	} {
		epub := minimalEPUB(t, b.title, b.author)
		rec := ts.do(t, multipartUpload(t, "/api/books", b.title+".epub", epub, token))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	feed := fetchFeed(t, ts, "/opds/books?search=Stoker")
	require.Len(t, feed.Entries, 1)
	assert.Equal(t, "Dracula", feed.Entries[0].Title)
}
