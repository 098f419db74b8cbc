// Package syncs provides database operations for reading-progress records.
//
// The write path is transactional: an update reads the current record, applies
// the new state and bumps counters inside one transaction so that a write is
// either fully applied or not applied at all. Serialization of concurrent
// writers for the same (user, document) key is the reconciler's job; this
// package guarantees atomicity only.
package syncs

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/koshelf/koshelf/internal/entities"
)

var ErrNotFound = errors.New("sync record not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Update carries the fields of one accepted progress write.
type Update struct {
	Document        string
	DocumentHash    string
	BookID          *uint
	Progress        string
	Percentage      float64
	Page            *int
	Pos             string
	Chapter         string
	DeviceName      string
	DeviceID        string
	DeviceRowID     uint // devices table primary key, 0 when unknown
	DeviceTimestamp *int64
}

// Apply persists an update for (userID, u.Document), creating the record on
// first sight. The record write and the device counter bump share one
// transaction.
func (r *Repository) Apply(userID uint, u Update) (*entities.SyncRecord, error) {
	var record entities.SyncRecord

	err := r.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		err := tx.Where("user_id = ? AND document = ?", userID, u.Document).First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record = entities.SyncRecord{
				UserID:   userID,
				Document: u.Document,
			}
		} else if err != nil {
			return err
		}

		record.DocumentHash = u.DocumentHash
		record.BookID = u.BookID
		record.Progress = u.Progress
		record.Percentage = u.Percentage
		if u.Page != nil {
			record.Page = u.Page
		}
		if u.Pos != "" {
			record.Pos = u.Pos
		}
		if u.Chapter != "" {
			record.Chapter = u.Chapter
		}
		record.DeviceName = u.DeviceName
		record.DeviceID = u.DeviceID
		record.DeviceTimestamp = u.DeviceTimestamp
		record.LastSyncAt = now
		record.SyncCount++

		if err := tx.Save(&record).Error; err != nil {
			return err
		}

		if u.DeviceRowID != 0 {
			err := tx.Model(&entities.Device{}).Where("id = ?", u.DeviceRowID).
				Updates(map[string]any{
					"last_sync_at": now,
					"sync_count":   gorm.Expr("sync_count + 1"),
				}).Error
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *Repository) Get(userID uint, document string) (*entities.SyncRecord, error) {
	var record entities.SyncRecord
	err := r.db.Where("user_id = ? AND document = ?", userID, document).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *Repository) GetByID(userID, id uint) (*entities.SyncRecord, error) {
	var record entities.SyncRecord
	err := r.db.Where("user_id = ?", userID).First(&record, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// List returns one page of a user's sync records, newest first, optionally
// filtered by a document substring.
func (r *Repository) List(userID uint, page, size int, documentFilter string) ([]entities.SyncRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}

	query := r.db.Model(&entities.SyncRecord{}).Where("user_id = ?", userID)
	if documentFilter != "" {
		query = query.Where("LOWER(document) LIKE LOWER(?)", "%"+documentFilter+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []entities.SyncRecord
	err := query.Order("last_sync_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&records).Error
	return records, total, err
}

// CountForDevice reports how many sync lines a device name last wrote.
func (r *Repository) CountForDevice(userID uint, deviceName string) (int64, error) {
	var count int64
	err := r.db.Model(&entities.SyncRecord{}).
		Where("user_id = ? AND device_name = ?", userID, deviceName).
		Count(&count).Error
	return count, err
}

func (r *Repository) Delete(userID, id uint) error {
	result := r.db.Where("user_id = ?", userID).Delete(&entities.SyncRecord{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
