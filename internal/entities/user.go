package entities

import (
	"time"

	"gorm.io/gorm"
)

// PasswordScheme identifies how a user's credential hash was produced.
type PasswordScheme string

const (
	// PasswordSchemeLegacy is the unsalted MD5 hex digest used by the kosync
	// plugin. Kept for compatibility with existing e-reader clients.
	PasswordSchemeLegacy PasswordScheme = "md5"
	PasswordSchemeBcrypt PasswordScheme = "bcrypt"
)

type User struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Username     string `gorm:"uniqueIndex;size:64" json:"username"`
	Email        string `gorm:"index;size:255" json:"email,omitempty"`
	PasswordHash string `gorm:"size:128" json:"-"`
	IsActive     bool   `gorm:"default:true" json:"is_active"`
	IsAdmin      bool   `gorm:"default:false" json:"is_admin"`

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	Devices []Device     `gorm:"foreignKey:UserID" json:"devices,omitempty"`
	Syncs   []SyncRecord `gorm:"foreignKey:UserID" json:"-"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string {
	return "users"
}

// Scheme reports which hash scheme the stored credential uses. Legacy kosync
// hashes are 32 hex characters; everything else is treated as bcrypt.
func (u *User) Scheme() PasswordScheme {
	if len(u.PasswordHash) == 32 {
		return PasswordSchemeLegacy
	}
	return PasswordSchemeBcrypt
}
