// Package users provides database operations for user accounts.
package users

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/koshelf/koshelf/internal/entities"
)

var ErrNotFound = errors.New("user not found")

// Repository handles user persistence.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(user *entities.User) error {
	return r.db.Create(user).Error
}

func (r *Repository) GetByID(id uint) (*entities.User, error) {
	var user entities.User
	err := r.db.First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Repository) GetByUsername(username string) (*entities.User, error) {
	var user entities.User
	err := r.db.Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Repository) Exists(username string) (bool, error) {
	var count int64
	err := r.db.Model(&entities.User{}).Where("username = ?", username).Count(&count).Error
	return count > 0, err
}

// TouchLastLogin records a successful login on both the row and the
// in-memory user.
func (r *Repository) TouchLastLogin(user *entities.User) error {
	now := time.Now()
	if err := r.db.Model(user).Update("last_login_at", now).Error; err != nil {
		return err
	}
	user.LastLoginAt = &now
	return nil
}

func (r *Repository) List() ([]entities.User, error) {
	var users []entities.User
	err := r.db.Order("username ASC").Find(&users).Error
	return users, err
}

func (r *Repository) HasUsers() (bool, error) {
	var count int64
	err := r.db.Model(&entities.User{}).Count(&count).Error
	return count > 0, err
}
