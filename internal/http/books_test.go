package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookUploadExtractsMetadata(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createAPIUser(t, "reader", "pass", false)

	epub := minimalEPUB(t, "The Time Machine", "H. G. Wells")
	rec := ts.do(t, multipartUpload(t, "/api/books", "time_machine.epub", epub, token))

	require.Equal(t, http.StatusCreated, rec.Code)
	out := decodeJSON(t, rec)
	assert.Equal(t, false, out["duplicate"])

	book := out["book"].(map[string]any)
	assert.Equal(t, "The Time Machine", book["title"])
	assert.Equal(t, "H. G. Wells", book["author"])
	assert.Equal(t, "epub", book["format"])
	assert.NotEmpty(t, book["file_hash"])
}

func TestBookUploadDeduplicates(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createAPIUser(t, "reader", "pass", false)

	epub := minimalEPUB(t, "Dracula", "Bram Stoker")

	rec := ts.do(t, multipartUpload(t, "/api/books", "dracula.epub", epub, token))
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decodeJSON(t, rec)["book"].(map[string]any)

	// Same bytes again: no new row, the original record comes back.
	rec = ts.do(t, multipartUpload(t, "/api/books", "dracula_copy.epub", epub, token))
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeJSON(t, rec)
	assert.Equal(t, true, out["duplicate"])

	second := out["book"].(map[string]any)
	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, first["file_hash"], second["file_hash"])
}

func TestBookUploadRejectsUnknownFormat(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createAPIUser(t, "reader", "pass", false)

	rec := ts.do(t, multipartUpload(t, "/api/books", "notes.txt", []byte("plain text"), token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookUploadSanitizesFilename(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createAPIUser(t, "reader", "pass", false)

	epub := minimalEPUB(t, "", "")
	rec := ts.do(t, multipartUpload(t, "/api/books", `C:\Users\evil path.epub`, epub, token))

	require.Equal(t, http.StatusCreated, rec.Code)
	book := decodeJSON(t, rec)["book"].(map[string]any)
	assert.Equal(t, "evil path.epub", book["filename"])
}

func TestBookDownloadRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createAPIUser(t, "reader", "pass", false)

	epub := minimalEPUB(t, "Emma", "Jane Austen")
	rec := ts.do(t, multipartUpload(t, "/api/books", "emma.epub", epub, token))
	require.Equal(t, http.StatusCreated, rec.Code)
	book := decodeJSON(t, rec)["book"].(map[string]any)
	id := book["id"].(float64)

	req := httptest.NewRequest(http.MethodGet, "/api/books/"+itoa(id)+"/download", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = ts.do(t, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, epub, rec.Body.Bytes())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "emma.epub")
}

func TestBookListAndSearch(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createAPIUser(t, "reader", "pass", false)

	for _, b := range []struct{ title, author string }{
		{"Dracula", "Bram Stoker"},
		{"Emma", "Jane Austen"},
		{"Persuasion", "Jane Austen"},
	} {
		epub := minimalEPUB(t, b.title, b.author)
		rec := ts.do(t, multipartUpload(t, "/api/books", b.title+".epub", epub, token))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decodeJSON(t, rec)["total"])

	req = httptest.NewRequest(http.MethodGet, "/api/books?search=Austen", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeJSON(t, rec)["total"])
}

func TestBookDelete(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createAPIUser(t, "reader", "pass", false)

	epub := minimalEPUB(t, "Emma", "Jane Austen")
	rec := ts.do(t, multipartUpload(t, "/api/books", "emma.epub", epub, token))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeJSON(t, rec)["book"].(map[string]any)["id"].(float64)

	req := httptest.NewRequest(http.MethodDelete, "/api/books/"+itoa(id), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, ts.do(t, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/books/"+itoa(id), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusNotFound, ts.do(t, req).Code)
}

func TestBooksRequireAuth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/books", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
