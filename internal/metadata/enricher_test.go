package metadata

import (
	"context"
	"errors"
	"testing"

	"github.com/koshelf/koshelf/internal/entities"
)

type mockMetadataProvider struct {
	searchByISBNResult  *BookMetadata
	searchByISBNError   error
	searchByTitleResult *BookMetadata
	searchByTitleError  error
	coverData           []byte
	coverMimeType       string
	coverError          error
	coverFetches        int
}

func (m *mockMetadataProvider) SearchByISBN(ctx context.Context, isbn string) (*BookMetadata, error) {
	return m.searchByISBNResult, m.searchByISBNError
}

func (m *mockMetadataProvider) SearchByTitle(ctx context.Context, title, author string) (*BookMetadata, error) {
	return m.searchByTitleResult, m.searchByTitleError
}

func (m *mockMetadataProvider) FetchCover(ctx context.Context, coverURL string) ([]byte, string, error) {
	m.coverFetches++
	if m.coverError != nil {
		return nil, "", m.coverError
	}
	return m.coverData, m.coverMimeType, nil
}

type mockCatalog struct {
	book         *entities.Book
	getError     error
	updateError  error
	updates      int
	missing      []entities.Book
	missingError error
}

func (m *mockCatalog) GetByID(id uint) (*entities.Book, error) {
	if m.getError != nil {
		return nil, m.getError
	}
	return m.book, nil
}

func (m *mockCatalog) Update(book *entities.Book) error {
	if m.updateError != nil {
		return m.updateError
	}
	m.updates++
	return nil
}

func (m *mockCatalog) FindMissingMetadata() ([]entities.Book, error) {
	return m.missing, m.missingError
}

func TestEnrichBook_WithISBN(t *testing.T) {
	book := &entities.Book{
		ID:     1,
		Title:  "Effective Java",
		Author: "Joshua Bloch",
		ISBN:   "9780134685991",
	}

	provider := &mockMetadataProvider{
		searchByISBNResult: &BookMetadata{
			Title:           "Effective Java",
			Author:          "Joshua Bloch",
			ISBN:            "9780134685991",
			Publisher:       "Addison-Wesley",
			PublicationYear: 2018,
			CoverURL:        "https://covers.openlibrary.org/b/isbn/9780134685991-L.jpg",
		},
		coverData:     []byte("jpeg-bytes"),
		coverMimeType: "image/jpeg",
	}

	catalog := &mockCatalog{book: book}
	enricher := NewEnricher(provider, catalog)

	result, err := enricher.EnrichBook(context.Background(), 1)
	if err != nil {
		t.Fatalf("EnrichBook failed: %v", err)
	}

	if result.SearchMethod != "isbn" {
		t.Errorf("expected search method 'isbn', got %q", result.SearchMethod)
	}
	if result.Book.Publisher != "Addison-Wesley" {
		t.Errorf("expected publisher to be updated to 'Addison-Wesley', got %q", result.Book.Publisher)
	}
	if result.Book.PublishedAt == nil || result.Book.PublishedAt.Year() != 2018 {
		t.Errorf("expected publication year 2018, got %v", result.Book.PublishedAt)
	}
	if !result.Book.HasCover() {
		t.Error("expected cover to be downloaded")
	}
	if result.Book.CoverMimeType != "image/jpeg" {
		t.Errorf("expected cover mime type image/jpeg, got %q", result.Book.CoverMimeType)
	}
	if catalog.updates != 1 {
		t.Errorf("expected 1 catalogue update, got %d", catalog.updates)
	}
}

func TestEnrichBook_FallbackToTitle(t *testing.T) {
	book := &entities.Book{
		ID:     1,
		Title:  "Clean Code",
		Author: "Robert Martin",
		// No ISBN
	}

	provider := &mockMetadataProvider{
		searchByTitleResult: &BookMetadata{
			Title:     "Clean Code",
			Author:    "Robert C. Martin",
			ISBN:      "9780132350884",
			Publisher: "Prentice Hall",
		},
		coverError: errors.New("no cover"),
	}

	catalog := &mockCatalog{book: book}
	enricher := NewEnricher(provider, catalog)

	result, err := enricher.EnrichBook(context.Background(), 1)
	if err != nil {
		t.Fatalf("EnrichBook failed: %v", err)
	}

	if result.SearchMethod != "title" {
		t.Errorf("expected search method 'title', got %q", result.SearchMethod)
	}
	if result.Book.ISBN != "9780132350884" {
		t.Errorf("expected ISBN to be filled in, got %q", result.Book.ISBN)
	}
}

func TestEnrichBook_DoesNotOverwriteExistingFields(t *testing.T) {
	book := &entities.Book{
		ID:        1,
		Title:     "Solaris",
		Author:    "Stanislaw Lem",
		ISBN:      "9780156027601",
		Publisher: "Original Publisher",
	}

	provider := &mockMetadataProvider{
		searchByISBNResult: &BookMetadata{
			Title:     "Solaris",
			Author:    "S. Lem",
			Publisher: "Some Other Publisher",
		},
	}

	catalog := &mockCatalog{book: book}
	enricher := NewEnricher(provider, catalog)

	result, err := enricher.EnrichBook(context.Background(), 1)
	if err != nil {
		t.Fatalf("EnrichBook failed: %v", err)
	}

	if result.Book.Publisher != "Original Publisher" {
		t.Errorf("existing publisher was overwritten: %q", result.Book.Publisher)
	}
	if result.Book.Author != "Stanislaw Lem" {
		t.Errorf("existing author was overwritten: %q", result.Book.Author)
	}
}

func TestEnrichBook_SearchFailure(t *testing.T) {
	book := &entities.Book{ID: 1, Title: "Unknown Book"}

	provider := &mockMetadataProvider{
		searchByTitleError: errors.New("no results"),
	}

	catalog := &mockCatalog{book: book}
	enricher := NewEnricher(provider, catalog)

	_, err := enricher.EnrichBook(context.Background(), 1)
	if err == nil {
		t.Error("expected error when search fails")
	}
	if catalog.updates != 0 {
		t.Errorf("expected no catalogue updates, got %d", catalog.updates)
	}
}

func TestEnrichBook_CoverFetchFailureIsNotFatal(t *testing.T) {
	book := &entities.Book{ID: 1, Title: "Solaris", ISBN: "9780156027601"}

	provider := &mockMetadataProvider{
		searchByISBNResult: &BookMetadata{
			Publisher: "Harvest Books",
			CoverURL:  "https://covers.openlibrary.org/b/isbn/9780156027601-L.jpg",
		},
		coverError: errors.New("timeout"),
	}

	catalog := &mockCatalog{book: book}
	enricher := NewEnricher(provider, catalog)

	result, err := enricher.EnrichBook(context.Background(), 1)
	if err != nil {
		t.Fatalf("EnrichBook failed: %v", err)
	}

	if result.Book.HasCover() {
		t.Error("expected no cover after failed fetch")
	}
	if result.Book.Publisher != "Harvest Books" {
		t.Errorf("expected publisher to still be updated, got %q", result.Book.Publisher)
	}
}

func TestEnrichAllMissing(t *testing.T) {
	missing := []entities.Book{
		{ID: 1, Title: "Book One"},
		{ID: 2, Title: "Book Two"},
	}

	provider := &mockMetadataProvider{
		searchByTitleResult: &BookMetadata{
			Publisher: "Some Publisher",
		},
	}

	// The mock catalogue serves the same book for every GetByID; what matters
	// here is the summary counts.
	catalog := &mockCatalog{book: &entities.Book{ID: 1, Title: "Book One"}, missing: missing}
	enricher := NewEnricher(provider, catalog)

	result, err := enricher.EnrichAllMissing(context.Background())
	if err != nil {
		t.Fatalf("EnrichAllMissing failed: %v", err)
	}

	if result.TotalBooks != 2 {
		t.Errorf("expected 2 total books, got %d", result.TotalBooks)
	}
	if result.Enriched == 0 {
		t.Error("expected at least one enriched book")
	}
}

func TestEnrichAllMissing_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	catalog := &mockCatalog{
		book:    &entities.Book{ID: 1, Title: "Book One"},
		missing: []entities.Book{{ID: 1, Title: "Book One"}},
	}
	enricher := NewEnricher(&mockMetadataProvider{}, catalog)

	_, err := enricher.EnrichAllMissing(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
