package auth

import (
	"errors"
	"fmt"
	"regexp"

	"gorm.io/gorm"

	"github.com/koshelf/koshelf/internal/config"
	"github.com/koshelf/koshelf/internal/database/users"
	"github.com/koshelf/koshelf/internal/entities"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{2,64}$`)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
	ErrUserDisabled     = errors.New("user account is disabled")
	ErrAuthRequired     = errors.New("authentication required")
	ErrUsernameRequired = errors.New("username is required")
	ErrUsernameInvalid  = errors.New("username must be 2-64 characters, alphanumeric plus dot/underscore/hyphen")
)

// Service handles user accounts and credential verification for both the
// legacy kosync path and the bearer-token API.
type Service struct {
	users  *users.Repository
	tokens *TokenIssuer
	config config.Auth
}

func NewService(db *gorm.DB, tokens *TokenIssuer, cfg config.Auth) *Service {
	return &Service{users: users.NewRepository(db), tokens: tokens, config: cfg}
}

// RegisterKosync creates a user the way the kosync plugin does: the stored
// credential is the legacy unsalted hash so old clients keep working.
func (s *Service) RegisterKosync(username, password string) (*entities.User, error) {
	if err := s.validateUsername(username); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, ErrPasswordRequired
	}

	if err := s.checkExists(username); err != nil {
		return nil, err
	}

	user := &entities.User{
		Username:     username,
		PasswordHash: HashPasswordLegacy(password),
		IsActive:     true,
	}
	if err := s.users.Create(user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// CreateUser creates a modern (bcrypt) account, used by the admin CLI and
// the management API.
func (s *Service) CreateUser(username, email, password string, isAdmin bool) (*entities.User, error) {
	if err := s.validateUsername(username); err != nil {
		return nil, err
	}

	if err := s.checkExists(username); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password, s.config.BcryptCost)
	if err != nil {
		return nil, err
	}

	user := &entities.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		IsAdmin:      isAdmin,
	}
	if err := s.users.Create(user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Authenticate validates credentials against whichever hash scheme the
// account carries and returns the user.
func (s *Service) Authenticate(username, password string) (*entities.User, error) {
	user, err := s.users.GetByUsername(username)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !user.IsActive {
		return nil, ErrUserDisabled
	}

	if err := CheckPassword(password, user.PasswordHash); err != nil {
		return nil, err
	}

	if err := s.users.TouchLastLogin(user); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}

	return user, nil
}

// IssueToken authenticates and returns a signed bearer token. Both the legacy
// and the modern credential path resolve to the same user identity here.
func (s *Service) IssueToken(username, password string) (string, *entities.User, error) {
	user, err := s.Authenticate(username, password)
	if err != nil {
		return "", nil, err
	}
	token, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, user, nil
}

// ValidateToken resolves a bearer token to its user.
func (s *Service) ValidateToken(token string) (*entities.User, error) {
	userID, _, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}
	return user, nil
}

func (s *Service) GetUserByID(id uint) (*entities.User, error) {
	user, err := s.users.GetByID(id)
	if errors.Is(err, users.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// ListUsers returns every account, ordered by username. Admin surface only.
func (s *Service) ListUsers() ([]entities.User, error) {
	return s.users.List()
}

func (s *Service) HasUsers() (bool, error) {
	return s.users.HasUsers()
}

func (s *Service) validateUsername(username string) error {
	if username == "" {
		return ErrUsernameRequired
	}
	if !usernamePattern.MatchString(username) {
		return ErrUsernameInvalid
	}
	return nil
}

func (s *Service) checkExists(username string) error {
	exists, err := s.users.Exists(username)
	if err != nil {
		return fmt.Errorf("failed to check existing user: %w", err)
	}
	if exists {
		return ErrUserExists
	}
	return nil
}
