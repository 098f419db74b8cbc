// Package devices provides database operations for registered e-reader clients.
package devices

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/koshelf/koshelf/internal/entities"
)

var ErrNotFound = errors.New("device not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetOrCreate returns the device identified by (userID, deviceID), creating
// it on first sight. An empty deviceID gets a generated one so that clients
// which only report a device name still get a stable row.
func (r *Repository) GetOrCreate(userID uint, deviceID, deviceName string) (*entities.Device, error) {
	if deviceID == "" {
		if deviceName == "" {
			return nil, errors.New("device requires an identifier or a name")
		}
		deviceID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(deviceName)).String()
	}

	var device entities.Device
	err := r.db.Where("user_id = ? AND device_id = ?", userID, deviceID).First(&device).Error
	if err == nil {
		if deviceName != "" && device.DeviceName != deviceName {
			device.DeviceName = deviceName
			if err := r.db.Save(&device).Error; err != nil {
				return nil, err
			}
		}
		return &device, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	device = entities.Device{
		UserID:      userID,
		DeviceID:    deviceID,
		DeviceName:  deviceName,
		IsActive:    true,
		SyncEnabled: true,
	}
	if err := r.db.Create(&device).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *Repository) GetByID(id uint) (*entities.Device, error) {
	var device entities.Device
	err := r.db.First(&device, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *Repository) ListForUser(userID uint) ([]entities.Device, error) {
	var devices []entities.Device
	err := r.db.Where("user_id = ?", userID).Order("device_name ASC").Find(&devices).Error
	return devices, err
}

// RecordSync bumps the device sync counter and last-sync timestamp. Callers
// running inside a transaction pass the tx handle so the bump commits with
// the sync record write.
func (r *Repository) RecordSync(tx *gorm.DB, deviceRowID uint) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Model(&entities.Device{}).Where("id = ?", deviceRowID).
		Updates(map[string]any{
			"last_sync_at": time.Now(),
			"sync_count":   gorm.Expr("sync_count + 1"),
		}).Error
}

func (r *Repository) Delete(userID, id uint) error {
	result := r.db.Where("user_id = ?", userID).Delete(&entities.Device{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
