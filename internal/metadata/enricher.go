package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/koshelf/koshelf/internal/entities"
)

// MetadataProvider defines the interface for fetching book metadata.
type MetadataProvider interface {
	SearchByISBN(ctx context.Context, isbn string) (*BookMetadata, error)
	SearchByTitle(ctx context.Context, title, author string) (*BookMetadata, error)
	FetchCover(ctx context.Context, coverURL string) ([]byte, string, error)
}

// BookCatalog defines the catalogue operations enrichment needs.
type BookCatalog interface {
	GetByID(id uint) (*entities.Book, error)
	Update(book *entities.Book) error
	FindMissingMetadata() ([]entities.Book, error)
}

// EnrichmentResult contains the result of an enrichment operation.
type EnrichmentResult struct {
	Book          *entities.Book `json:"book"`
	FieldsUpdated []string       `json:"fields_updated"`
	Source        string         `json:"source"`
	SearchMethod  string         `json:"search_method"` // "isbn" or "title"
}

// Enricher fills gaps in catalogued book metadata from an external source.
// Only empty fields are touched; whatever the file itself carried wins.
type Enricher struct {
	provider MetadataProvider
	catalog  BookCatalog
}

// NewEnricher creates a new Enricher with the given metadata provider and catalogue.
func NewEnricher(provider MetadataProvider, catalog BookCatalog) *Enricher {
	return &Enricher{
		provider: provider,
		catalog:  catalog,
	}
}

// EnrichBook fetches metadata for a book and updates it in the catalogue.
// It tries ISBN first (if available), then falls back to title+author search.
func (e *Enricher) EnrichBook(ctx context.Context, bookID uint) (*EnrichmentResult, error) {
	book, err := e.catalog.GetByID(bookID)
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}

	var metadata *BookMetadata
	var searchMethod string

	if book.ISBN != "" {
		metadata, err = e.provider.SearchByISBN(ctx, book.ISBN)
		if err == nil {
			searchMethod = "isbn"
		}
	}

	if metadata == nil {
		metadata, err = e.provider.SearchByTitle(ctx, book.Title, book.Author)
		if err != nil {
			return nil, fmt.Errorf("metadata search failed: %w", err)
		}
		searchMethod = "title"
	}

	fieldsUpdated := e.apply(ctx, book, metadata)

	if len(fieldsUpdated) > 0 {
		if err := e.catalog.Update(book); err != nil {
			return nil, fmt.Errorf("update book metadata: %w", err)
		}
	}

	return &EnrichmentResult{
		Book:          book,
		FieldsUpdated: fieldsUpdated,
		Source:        "openlibrary",
		SearchMethod:  searchMethod,
	}, nil
}

// BulkEnrichmentResult contains the summary of a bulk enrichment operation.
type BulkEnrichmentResult struct {
	TotalBooks int      `json:"total_books"`
	Enriched   int      `json:"enriched"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	Errors     []string `json:"errors,omitempty"`
}

// EnrichAllMissing enriches every book missing an ISBN, publisher,
// publication date or cover.
func (e *Enricher) EnrichAllMissing(ctx context.Context) (*BulkEnrichmentResult, error) {
	books, err := e.catalog.FindMissingMetadata()
	if err != nil {
		return nil, fmt.Errorf("get books missing metadata: %w", err)
	}

	result := &BulkEnrichmentResult{
		TotalBooks: len(books),
	}

	for _, book := range books {
		select {
		case <-ctx.Done():
			result.Errors = append(result.Errors, "operation cancelled")
			return result, ctx.Err()
		default:
		}

		enrichResult, err := e.EnrichBook(ctx, book.ID)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", book.DisplayTitle(), err))
			continue
		}

		if len(enrichResult.FieldsUpdated) > 0 {
			result.Enriched++
		} else {
			result.Skipped++
		}
	}

	return result, nil
}

// apply copies fetched metadata into empty book fields and reports which
// fields changed. The cover is downloaded only when the book has none.
func (e *Enricher) apply(ctx context.Context, book *entities.Book, metadata *BookMetadata) []string {
	var fieldsUpdated []string

	if book.ISBN == "" && metadata.ISBN != "" {
		book.ISBN = metadata.ISBN
		fieldsUpdated = append(fieldsUpdated, "isbn")
	}

	if book.Author == "" && metadata.Author != "" {
		book.Author = metadata.Author
		fieldsUpdated = append(fieldsUpdated, "author")
	}

	if book.Publisher == "" && metadata.Publisher != "" {
		book.Publisher = metadata.Publisher
		fieldsUpdated = append(fieldsUpdated, "publisher")
	}

	if book.Description == "" && metadata.Description != "" {
		book.Description = metadata.Description
		fieldsUpdated = append(fieldsUpdated, "description")
	}

	if book.PublishedAt == nil && metadata.PublicationYear > 0 {
		published := time.Date(metadata.PublicationYear, time.January, 1, 0, 0, 0, 0, time.UTC)
		book.PublishedAt = &published
		fieldsUpdated = append(fieldsUpdated, "published_at")
	}

	if !book.HasCover() && metadata.CoverURL != "" {
		data, mimeType, err := e.provider.FetchCover(ctx, metadata.CoverURL)
		if err == nil {
			book.CoverImage = data
			book.CoverMimeType = mimeType
			fieldsUpdated = append(fieldsUpdated, "cover")
		}
	}

	return fieldsUpdated
}
