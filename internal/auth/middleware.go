package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/koshelf/koshelf/internal/entities"
)

// Context keys for authenticated request data
const (
	ContextKeyUser     = "auth_user"
	ContextKeyUserID   = "auth_user_id"
	ContextKeyAuthType = "auth_type"
)

// AuthType indicates how the request was authenticated.
type AuthType string

const (
	AuthTypeBearer  AuthType = "bearer"
	AuthTypeKosync  AuthType = "kosync"
	AuthTypeSession AuthType = "session"
)

// Middleware authenticates requests. Three mechanisms are accepted, tried in
// order: a Bearer token (modern API clients), the kosync x-auth-user/
// x-auth-key header pair (KOReader plugins, key is the legacy unsalted hash),
// and an admin session cookie.
type Middleware struct {
	service        *Service
	sessionManager *SessionManager
}

func NewMiddleware(service *Service, sessionManager *SessionManager) *Middleware {
	return &Middleware{service: service, sessionManager: sessionManager}
}

// Identify resolves the user if any credentials are present but never aborts;
// handlers that require auth combine it with RequireUser.
func (m *Middleware) Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := m.tryBearer(c); user != nil {
			setUserContext(c, user, AuthTypeBearer)
		} else if user := m.tryKosyncHeaders(c); user != nil {
			setUserContext(c, user, AuthTypeKosync)
		} else if user := m.trySession(c); user != nil {
			setUserContext(c, user, AuthTypeSession)
		}
		c.Next()
	}
}

// RequireUser aborts with 401 when Identify found no user.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextKeyUser); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin aborts unless the authenticated user is an administrator.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}
		if !user.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "administrator privileges required",
			})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the authenticated user or nil.
func CurrentUser(c *gin.Context) *entities.User {
	v, ok := c.Get(ContextKeyUser)
	if !ok {
		return nil
	}
	user, _ := v.(*entities.User)
	return user
}

func setUserContext(c *gin.Context, user *entities.User, at AuthType) {
	c.Set(ContextKeyUser, user)
	c.Set(ContextKeyUserID, user.ID)
	c.Set(ContextKeyAuthType, at)
}

func (m *Middleware) tryBearer(c *gin.Context) *entities.User {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil
	}

	user, err := m.service.ValidateToken(parts[1])
	if err != nil {
		return nil
	}
	return user
}

// tryKosyncHeaders validates the header pair the KOReader sync plugin sends:
// x-auth-user is the username, x-auth-key the client-side unsalted hash of
// the password. The key is the same credential the plugin sent at
// registration, so it runs through the legacy digest like any password.
func (m *Middleware) tryKosyncHeaders(c *gin.Context) *entities.User {
	username := c.GetHeader("x-auth-user")
	key := c.GetHeader("x-auth-key")
	if username == "" || key == "" {
		return nil
	}

	user, err := m.service.users.GetByUsername(username)
	if err != nil {
		return nil
	}
	if !user.IsActive || user.Scheme() != entities.PasswordSchemeLegacy {
		return nil
	}
	candidate := HashPasswordLegacy(strings.ToLower(key))
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(user.PasswordHash)) != 1 {
		return nil
	}
	return user
}

func (m *Middleware) trySession(c *gin.Context) *entities.User {
	if m.sessionManager == nil {
		return nil
	}
	userID := m.sessionManager.GetUserID(c.Request)
	if userID == 0 {
		return nil
	}
	user, err := m.service.GetUserByID(userID)
	if err != nil {
		return nil
	}
	return user
}
