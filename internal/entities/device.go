package entities

import "time"

// Device is a registered e-reader client belonging to one user.
// (UserID, DeviceID) is unique; DeviceName is the human readable label the
// client reports on sync.
type Device struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	UserID     uint   `gorm:"index:idx_devices_user_device,unique" json:"user_id"`
	DeviceID   string `gorm:"index:idx_devices_user_device,unique;size:100" json:"device_id"`
	DeviceName string `gorm:"index;size:100" json:"device_name"`

	Model      string `gorm:"size:64" json:"model,omitempty"`
	AppVersion string `gorm:"size:64" json:"app_version,omitempty"`

	IsActive    bool       `gorm:"default:true" json:"is_active"`
	SyncEnabled bool       `gorm:"default:true" json:"sync_enabled"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	SyncCount   int64      `gorm:"default:0" json:"sync_count"`

	User User `gorm:"foreignKey:UserID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Device) TableName() string {
	return "devices"
}

// RecentlyActive reports whether the device synced within the last 24 hours.
func (d *Device) RecentlyActive() bool {
	if d.LastSyncAt == nil {
		return false
	}
	return time.Since(*d.LastSyncAt) < 24*time.Hour
}
