// Package books provides catalogue queries over the book table: pagination,
// format filtering and free-text search for the API and the OPDS feed.
package books

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/koshelf/koshelf/internal/entities"
)

var (
	ErrNotFound      = errors.New("book not found")
	ErrDuplicateHash = errors.New("a book with this content hash already exists")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ListOptions narrows a paginated listing. Page is 1-based.
type ListOptions struct {
	Page   int
	Size   int
	Format string
	Search string
}

func (o *ListOptions) normalize(maxSize int) {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Size < 1 {
		o.Size = 20
	}
	if maxSize > 0 && o.Size > maxSize {
		o.Size = maxSize
	}
}

// List returns one page of available books plus the unpaginated total.
func (r *Repository) List(opts ListOptions, maxSize int) ([]entities.Book, int64, error) {
	opts.normalize(maxSize)

	query := r.db.Model(&entities.Book{}).Where("is_available = ?", true)
	if opts.Format != "" {
		query = query.Where("format = ?", strings.ToLower(opts.Format))
	}
	if opts.Search != "" {
		pattern := "%" + opts.Search + "%"
		query = query.Where(
			"LOWER(title) LIKE LOWER(?) OR LOWER(author) LIKE LOWER(?) OR LOWER(publisher) LIKE LOWER(?)",
			pattern, pattern, pattern,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []entities.Book
	err := query.Order("title ASC").
		Offset((opts.Page - 1) * opts.Size).
		Limit(opts.Size).
		Find(&list).Error
	return list, total, err
}

// Create inserts a new book row. The unique index on the content hash is the
// backstop for concurrent uploads of the same bytes: the loser surfaces
// ErrDuplicateHash instead of a second row.
func (r *Repository) Create(book *entities.Book) error {
	err := r.db.Create(book).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateHash
	}
	return err
}

func (r *Repository) GetByID(id uint) (*entities.Book, error) {
	var book entities.Book
	err := r.db.First(&book, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// FindByHash returns any book row referencing the given content hash.
func (r *Repository) FindByHash(hash string) (*entities.Book, error) {
	var book entities.Book
	err := r.db.Where("file_hash = ?", hash).First(&book).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// FindByTitle matches statistics entries against the catalogue. Author
// narrows the match when provided; matching is exact, not fuzzy.
func (r *Repository) FindByTitle(title, author string) (*entities.Book, error) {
	query := r.db.Where("LOWER(title) = LOWER(?)", title)
	if author != "" {
		query = query.Where("LOWER(author) = LOWER(?)", author)
	}
	var book entities.Book
	err := query.First(&book).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *Repository) Update(book *entities.Book) error {
	return r.db.Save(book).Error
}

func (r *Repository) IncrementDownloadCount(id uint) error {
	return r.db.Model(&entities.Book{}).Where("id = ?", id).
		Update("download_count", gorm.Expr("download_count + 1")).Error
}

// CountByHash reports how many live book rows reference a content hash,
// soft-deleted rows excluded. Used to decide whether deleting a book may
// release its blob.
func (r *Repository) CountByHash(hash string) (int64, error) {
	var count int64
	err := r.db.Model(&entities.Book{}).Where("file_hash = ?", hash).Count(&count).Error
	return count, err
}

func (r *Repository) Delete(id uint) error {
	result := r.db.Delete(&entities.Book{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindMissingMetadata returns available books lacking an ISBN, publisher,
// publication date or cover. Candidates for enrichment.
func (r *Repository) FindMissingMetadata() ([]entities.Book, error) {
	var list []entities.Book
	err := r.db.Where("is_available = ?", true).
		Where("isbn = '' OR publisher = '' OR published_at IS NULL OR cover_mime_type = ''").
		Order("id ASC").
		Find(&list).Error
	return list, err
}

// HashesInUse returns the distinct set of content hashes any book row still
// references, soft-deleted rows included so the sweeper never races a restore.
func (r *Repository) HashesInUse() (map[string]bool, error) {
	var hashes []string
	err := r.db.Unscoped().Model(&entities.Book{}).
		Distinct("file_hash").Pluck("file_hash", &hashes).Error
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		if h != "" {
			set[h] = true
		}
	}
	return set, nil
}
