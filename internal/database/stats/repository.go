// Package stats provides database operations for normalized reading
// statistics. The merge itself lives in the ingestor; this package persists
// records and answers the read-side queries behind the analytics views.
package stats

import (
	"errors"

	"gorm.io/gorm"

	"github.com/koshelf/koshelf/internal/entities"
)

var ErrNotFound = errors.New("reading stat not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Transaction runs fn inside one database transaction. The ingestor wraps a
// find-merge-save cycle with it so two concurrent ingestions cannot interleave
// partial writes to the same record.
func (r *Repository) Transaction(fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

// FindForMerge locates the aggregate for a (user, device, title) triple using
// the given transaction handle. Returns ErrNotFound when no record exists yet.
func (r *Repository) FindForMerge(tx *gorm.DB, userID uint, deviceName, bookTitle string) (*entities.ReadingStat, error) {
	var stat entities.ReadingStat
	err := tx.Where("user_id = ? AND device_name = ? AND book_title = ?", userID, deviceName, bookTitle).
		First(&stat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stat, nil
}

func (r *Repository) Save(tx *gorm.DB, stat *entities.ReadingStat) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Save(stat).Error
}

// ListOptions narrows a paginated statistics listing.
type ListOptions struct {
	Page       int
	Size       int
	DeviceName string
	BookTitle  string
}

func (r *Repository) List(userID uint, opts ListOptions) ([]entities.ReadingStat, int64, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Size < 1 {
		opts.Size = 20
	}

	query := r.db.Model(&entities.ReadingStat{}).Where("user_id = ?", userID)
	if opts.DeviceName != "" {
		query = query.Where("LOWER(device_name) LIKE LOWER(?)", "%"+opts.DeviceName+"%")
	}
	if opts.BookTitle != "" {
		query = query.Where("LOWER(book_title) LIKE LOWER(?)", "%"+opts.BookTitle+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []entities.ReadingStat
	err := query.Order("updated_at DESC").
		Offset((opts.Page - 1) * opts.Size).
		Limit(opts.Size).
		Find(&list).Error
	return list, total, err
}

func (r *Repository) ListForUser(userID uint) ([]entities.ReadingStat, error) {
	var list []entities.ReadingStat
	err := r.db.Where("user_id = ?", userID).Find(&list).Error
	return list, err
}
