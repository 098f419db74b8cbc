package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/koshelf/koshelf/internal/config"
	"github.com/koshelf/koshelf/internal/entities"
)

func setupTestService(t *testing.T) *Service {
	svc, _ := setupTestServiceDB(t)
	return svc
}

func setupTestServiceDB(t *testing.T) (*Service, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&entities.User{}))

	var cfg config.Auth
	cfg.BcryptCost = bcrypt.MinCost

	tokens := NewTokenIssuer("test-secret", time.Hour)
	return NewService(db, tokens, cfg), db
}

func TestRegisterKosync(t *testing.T) {
	svc := setupTestService(t)

	user, err := svc.RegisterKosync("kobo-reader", HashPasswordLegacy("pass"))
	require.NoError(t, err)

	// The stored value must look like a legacy digest so CheckPassword
	// routes it through the MD5 path.
	assert.Len(t, user.PasswordHash, 32)
	assert.True(t, user.IsActive)
	assert.False(t, user.IsAdmin)
}

func TestRegisterKosyncDuplicate(t *testing.T) {
	svc := setupTestService(t)

	_, err := svc.RegisterKosync("reader", "cred")
	require.NoError(t, err)

	_, err = svc.RegisterKosync("reader", "cred")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestRegisterKosyncInvalidUsername(t *testing.T) {
	svc := setupTestService(t)

	_, err := svc.RegisterKosync("", "cred")
	assert.ErrorIs(t, err, ErrUsernameRequired)

	_, err = svc.RegisterKosync("has spaces", "cred")
	assert.ErrorIs(t, err, ErrUsernameInvalid)

	_, err = svc.RegisterKosync("x", "cred")
	assert.ErrorIs(t, err, ErrUsernameInvalid)
}

func TestCreateUser(t *testing.T) {
	svc := setupTestService(t)

	user, err := svc.CreateUser("admin", "admin@example.com", "admin-pass", true)
	require.NoError(t, err)

	assert.True(t, user.IsAdmin)
	assert.NotEqual(t, "admin-pass", user.PasswordHash)
	assert.Greater(t, len(user.PasswordHash), 32)
}

func TestAuthenticateBcrypt(t *testing.T) {
	svc := setupTestService(t)

	created, err := svc.CreateUser("admin", "", "admin-pass", true)
	require.NoError(t, err)

	user, err := svc.Authenticate("admin", "admin-pass")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)
	assert.NotNil(t, user.LastLoginAt)

	_, err = svc.Authenticate("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestAuthenticateLegacy(t *testing.T) {
	svc := setupTestService(t)

	// kosync clients authenticate by sending the MD5 digest itself, so the
	// digest is the effective password.
	cred := HashPasswordLegacy("device-password")
	_, err := svc.RegisterKosync("kobo", cred)
	require.NoError(t, err)

	_, err = svc.Authenticate("kobo", cred)
	assert.NoError(t, err)

	_, err = svc.Authenticate("kobo", "device-password")
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	svc := setupTestService(t)

	_, err := svc.Authenticate("nobody", "pass")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAuthenticateDisabledUser(t *testing.T) {
	svc, db := setupTestServiceDB(t)

	user, err := svc.CreateUser("reader", "", "pass", false)
	require.NoError(t, err)
	require.NoError(t, db.Model(user).Update("is_active", false).Error)

	_, err = svc.Authenticate("reader", "pass")
	assert.ErrorIs(t, err, ErrUserDisabled)
}

func TestIssueAndValidateToken(t *testing.T) {
	svc := setupTestService(t)

	created, err := svc.CreateUser("reader", "", "pass", false)
	require.NoError(t, err)

	token, user, err := svc.IssueToken("reader", "pass")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)

	resolved, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, created.ID, resolved.ID)
}

func TestValidateTokenDisabledUser(t *testing.T) {
	svc, db := setupTestServiceDB(t)

	user, err := svc.CreateUser("reader", "", "pass", false)
	require.NoError(t, err)

	token, _, err := svc.IssueToken("reader", "pass")
	require.NoError(t, err)

	require.NoError(t, db.Model(user).Update("is_active", false).Error)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrUserDisabled)
}

func TestHasUsers(t *testing.T) {
	svc := setupTestService(t)

	has, err := svc.HasUsers()
	require.NoError(t, err)
	assert.False(t, has)

	_, err = svc.CreateUser("admin", "", "pass", true)
	require.NoError(t, err)

	has, err = svc.HasUsers()
	require.NoError(t, err)
	assert.True(t, has)
}
