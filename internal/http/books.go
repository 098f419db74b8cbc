package http

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/koshelf/koshelf/internal/audit"
	"github.com/koshelf/koshelf/internal/auth"
	"github.com/koshelf/koshelf/internal/bookmeta"
	"github.com/koshelf/koshelf/internal/contentstore"
	"github.com/koshelf/koshelf/internal/database/books"
	"github.com/koshelf/koshelf/internal/entities"
	"github.com/koshelf/koshelf/internal/tasks"
	"github.com/koshelf/koshelf/internal/utils"
)

// BooksController manages the catalog: uploads with content-addressed
// deduplication, downloads, covers and metadata edits.
type BooksController struct {
	books          *books.Repository
	store          *contentstore.Store
	audit          *audit.Service
	taskClient     *tasks.Client
	autoEnrich     bool
	maxUploadBytes int64
	pageSizeLimit  int
}

func NewBooksController(cfg RouterConfig) *BooksController {
	return &BooksController{
		books:          cfg.Books,
		store:          cfg.ContentStore,
		audit:          cfg.Audit,
		taskClient:     cfg.TaskClient,
		autoEnrich:     cfg.AutoEnrich,
		maxUploadBytes: cfg.MaxUploadBytes,
		pageSizeLimit:  cfg.PageSizeLimit,
	}
}

// Upload handles POST /api/books. Identical bytes uploaded twice return the
// already-catalogued book instead of a new row.
func (b *BooksController) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondBadRequest(c, "multipart field 'file' is required")
		return
	}
	if b.maxUploadBytes > 0 && fileHeader.Size > b.maxUploadBytes {
		respondError(c, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds upload limit of %d bytes", b.maxUploadBytes))
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		respondInternalError(c, err, "open upload")
		return
	}
	defer src.Close()

	sniff := make([]byte, 8)
	n, _ := src.Read(sniff)
	format := bookmeta.DetectFormat(fileHeader.Filename, sniff[:n])
	if format == "" {
		respondBadRequest(c, "unsupported format: only epub and pdf are accepted")
		return
	}
	if _, err := src.Seek(0, 0); err != nil {
		respondInternalError(c, err, "rewind upload")
		return
	}

	hash, size, err := b.store.Put(src)
	if err != nil {
		respondInternalError(c, err, "store upload")
		return
	}

	if existing, err := b.books.FindByHash(hash); err == nil {
		c.JSON(http.StatusOK, gin.H{"book": existing, "duplicate": true})
		return
	}

	fileName := utils.SanitizeFilename(fileHeader.Filename)
	book := &entities.Book{
		Title:       utils.TitleFromFilename(fileName),
		FileName:    fileName,
		Format:      format,
		FileSize:    size,
		FileHash:    hash,
		IsAvailable: true,
	}
	if user := auth.CurrentUser(c); user != nil {
		book.UploadedByID = &user.ID
	}

	b.applyExtractedMetadata(book, hash, size, format)

	if err := b.books.Create(book); err != nil {
		// A concurrent upload of the same bytes can win the insert between
		// our lookup and here; hand back the row that got there first.
		if errors.Is(err, books.ErrDuplicateHash) {
			if existing, ferr := b.books.FindByHash(hash); ferr == nil {
				c.JSON(http.StatusOK, gin.H{"book": existing, "duplicate": true})
				return
			}
		}
		respondInternalError(c, err, "create book")
		return
	}

	if b.audit != nil {
		b.audit.LogUpload(currentUserID(c), book.ID, "Uploaded "+book.FileName, false, nil)
	}
	b.maybeEnqueueEnrichment(book)

	c.JSON(http.StatusCreated, gin.H{"book": book, "duplicate": false})
}

// maybeEnqueueEnrichment schedules an OpenLibrary lookup for books whose
// extracted metadata left gaps.
func (b *BooksController) maybeEnqueueEnrichment(book *entities.Book) {
	if !b.autoEnrich || b.taskClient == nil {
		return
	}
	if book.ISBN != "" && book.Publisher != "" && book.PublishedAt != nil && book.HasCover() {
		return
	}
	if _, err := b.taskClient.Add(tasks.EnrichBookTask{BookID: book.ID}).Save(); err != nil {
		log.Printf("enqueue enrichment for book %d: %v", book.ID, err)
	}
}

// applyExtractedMetadata overlays parsed metadata onto the filename-derived
// defaults. Extraction failure leaves the defaults in place; an unreadable
// OPF is not a reason to reject a structurally valid file.
func (b *BooksController) applyExtractedMetadata(book *entities.Book, hash string, size int64, format string) {
	blob, err := b.store.Open(hash)
	if err != nil {
		log.Printf("metadata extraction skipped for %s: %v", hash, err)
		return
	}
	defer blob.Close()

	meta, err := bookmeta.Extract(blob, size, format)
	if err != nil {
		log.Printf("metadata extraction failed for %s: %v", book.FileName, err)
		return
	}

	if meta.Title != "" {
		book.Title = meta.Title
	}
	book.Author = meta.Author
	book.Publisher = meta.Publisher
	book.Language = meta.Language
	book.Description = meta.Description
	if isbn := normalizeISBN(meta.Identifier); isbn != "" {
		book.ISBN = isbn
	}
	if t := parsePublishedDate(meta.PublishedDate); t != nil {
		book.PublishedAt = t
	}
	if len(meta.CoverImage) > 0 {
		book.CoverImage = meta.CoverImage
		book.CoverMimeType = meta.CoverMediaType
	}
}

// List handles GET /api/books with page/size/format/search parameters.
func (b *BooksController) List(c *gin.Context) {
	page, size := parsePagination(c)

	opts := books.ListOptions{
		Page:   page,
		Size:   size,
		Format: c.Query("format"),
		Search: c.Query("search"),
	}

	list, total, err := b.books.List(opts, b.pageSizeLimit)
	if err != nil {
		respondInternalError(c, err, "list books")
		return
	}
	c.JSON(http.StatusOK, newPaginatedResponse(list, total, page, size))
}

// Get handles GET /api/books/:id.
func (b *BooksController) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	book, err := b.books.GetByID(id)
	if errors.Is(err, books.ErrNotFound) {
		respondNotFound(c, "book")
		return
	}
	if err != nil {
		respondInternalError(c, err, "get book")
		return
	}
	c.JSON(http.StatusOK, book)
}

// Download handles GET /api/books/:id/download and streams the stored blob.
func (b *BooksController) Download(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	book, err := b.books.GetByID(id)
	if errors.Is(err, books.ErrNotFound) {
		respondNotFound(c, "book")
		return
	}
	if err != nil {
		respondInternalError(c, err, "get book")
		return
	}
	if !book.IsAvailable {
		respondError(c, http.StatusGone, "book is no longer available")
		return
	}

	blob, err := b.store.Open(book.FileHash)
	if errors.Is(err, contentstore.ErrNotFound) {
		respondNotFound(c, "book content")
		return
	}
	if err != nil {
		respondInternalError(c, err, "open blob")
		return
	}
	defer blob.Close()

	if err := b.books.IncrementDownloadCount(book.ID); err != nil {
		log.Printf("download counter for book %d: %v", book.ID, err)
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", book.FileName))
	c.DataFromReader(http.StatusOK, book.FileSize, bookmeta.MIMEType(book.Format), blob, nil)
}

// Cover handles GET /api/books/:id/cover.
func (b *BooksController) Cover(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	book, err := b.books.GetByID(id)
	if errors.Is(err, books.ErrNotFound) {
		respondNotFound(c, "book")
		return
	}
	if err != nil {
		respondInternalError(c, err, "get book")
		return
	}
	if !book.HasCover() {
		respondNotFound(c, "cover")
		return
	}

	mime := book.CoverMimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	c.Data(http.StatusOK, mime, book.CoverImage)
}

type bookPatch struct {
	Title       *string `json:"title"`
	Author      *string `json:"author"`
	Publisher   *string `json:"publisher"`
	Language    *string `json:"language"`
	Description *string `json:"description"`
	ISBN        *string `json:"isbn"`
	IsAvailable *bool   `json:"is_available"`
}

// Patch handles PATCH /api/books/:id for manual metadata corrections.
func (b *BooksController) Patch(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	book, err := b.books.GetByID(id)
	if errors.Is(err, books.ErrNotFound) {
		respondNotFound(c, "book")
		return
	}
	if err != nil {
		respondInternalError(c, err, "get book")
		return
	}

	var patch bookPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondBadRequest(c, "malformed patch body")
		return
	}

	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			respondBadRequest(c, "title cannot be empty")
			return
		}
		book.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Author != nil {
		book.Author = strings.TrimSpace(*patch.Author)
	}
	if patch.Publisher != nil {
		book.Publisher = strings.TrimSpace(*patch.Publisher)
	}
	if patch.Language != nil {
		book.Language = strings.TrimSpace(*patch.Language)
	}
	if patch.Description != nil {
		book.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.ISBN != nil {
		book.ISBN = normalizeISBN(*patch.ISBN)
	}
	if patch.IsAvailable != nil {
		book.IsAvailable = *patch.IsAvailable
	}

	if err := b.books.Update(book); err != nil {
		respondInternalError(c, err, "update book")
		return
	}
	c.JSON(http.StatusOK, book)
}

// Delete handles DELETE /api/books/:id. The catalog row goes away
// immediately; the blob is only removed once no other row references it,
// otherwise the scheduled orphan sweep picks it up.
func (b *BooksController) Delete(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	book, err := b.books.GetByID(id)
	if errors.Is(err, books.ErrNotFound) {
		respondNotFound(c, "book")
		return
	}
	if err != nil {
		respondInternalError(c, err, "get book")
		return
	}

	if err := b.books.Delete(book.ID); err != nil {
		respondInternalError(c, err, "delete book")
		return
	}

	count, err := b.books.CountByHash(book.FileHash)
	if err == nil && count == 0 {
		if err := b.store.Remove(book.FileHash); err != nil {
			log.Printf("remove blob %s: %v", book.FileHash, err)
		}
	}

	if b.audit != nil {
		b.audit.LogDelete(currentUserID(c), "book", book.ID, book.DisplayTitle())
	}

	respondSuccess(c, "book deleted")
}

func normalizeISBN(identifier string) string {
	s := strings.TrimPrefix(strings.ToLower(identifier), "urn:isbn:")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	if len(s) != 10 && len(s) != 13 {
		return ""
	}
	for _, c := range s[:len(s)-1] {
		if c < '0' || c > '9' {
			return ""
		}
	}
	return s
}

func parsePublishedDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01-02", "2006-01", "2006", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
