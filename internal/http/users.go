package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/koshelf/koshelf/internal/audit"
	"github.com/koshelf/koshelf/internal/auth"
)

// UsersController owns login in both flavors: bearer tokens for API clients
// and cookie sessions for the admin surface.
type UsersController struct {
	auth     *auth.Service
	sessions *auth.SessionManager
	limiter  *auth.RateLimiter
	audit    *audit.Service
}

func NewUsersController(authService *auth.Service, sessions *auth.SessionManager, limiter *auth.RateLimiter, auditService *audit.Service) *UsersController {
	return &UsersController{auth: authService, sessions: sessions, limiter: limiter, audit: auditService}
}

func (u *UsersController) logAuth(c *gin.Context, userID uint, action string, success bool) {
	if u.audit != nil {
		u.audit.LogAuth(userID, action, c.ClientIP(), c.Request.UserAgent(), success)
	}
}

type loginBody struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// Login handles POST /api/auth/login and returns a bearer token.
func (u *UsersController) Login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBind(&body); err != nil || body.Username == "" || body.Password == "" {
		respondBadRequest(c, "username and password are required")
		return
	}

	token, user, err := u.auth.IssueToken(body.Username, body.Password)
	if err != nil {
		if u.limiter != nil {
			u.limiter.RecordFailure(c.ClientIP(), body.Username)
		}
		u.logAuth(c, 0, "login_failed", false)
		respondError(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if u.limiter != nil {
		u.limiter.RecordSuccess(c.ClientIP(), body.Username)
	}
	u.logAuth(c, user.ID, "login", true)

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"username":     user.Username,
	})
}

// Me handles GET /api/auth/me.
func (u *UsersController) Me(c *gin.Context) {
	user := auth.CurrentUser(c)
	c.JSON(http.StatusOK, user)
}

// SessionLogin handles POST /login for the browser surface.
func (u *UsersController) SessionLogin(c *gin.Context) {
	if u.sessions == nil {
		respondError(c, http.StatusNotImplemented, "sessions are not configured")
		return
	}

	var body loginBody
	if err := c.ShouldBind(&body); err != nil || body.Username == "" || body.Password == "" {
		respondBadRequest(c, "username and password are required")
		return
	}

	user, err := u.auth.Authenticate(body.Username, body.Password)
	if err != nil {
		if u.limiter != nil {
			u.limiter.RecordFailure(c.ClientIP(), body.Username)
		}
		u.logAuth(c, 0, "session_login_failed", false)
		respondError(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if u.limiter != nil {
		u.limiter.RecordSuccess(c.ClientIP(), body.Username)
	}
	u.logAuth(c, user.ID, "session_login", true)

	if err := u.sessions.CreateSession(c.Request, user); err != nil {
		respondInternalError(c, err, "create session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": user.Username, "is_admin": user.IsAdmin})
}

// SessionLogout handles POST /logout.
func (u *UsersController) SessionLogout(c *gin.Context) {
	if u.sessions == nil {
		respondError(c, http.StatusNotImplemented, "sessions are not configured")
		return
	}
	if err := u.sessions.DestroySession(c.Request); err != nil {
		respondInternalError(c, err, "destroy session")
		return
	}
	respondSuccess(c, "logged out")
}

type createUserBody struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email"`
	Password string `json:"password" binding:"required"`
	IsAdmin  bool   `json:"is_admin"`
}

// Create handles POST /api/users (admin only).
func (u *UsersController) Create(c *gin.Context) {
	var body createUserBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, "username and password are required")
		return
	}

	user, err := u.auth.CreateUser(body.Username, body.Email, body.Password, body.IsAdmin)
	switch {
	case errors.Is(err, auth.ErrUserExists):
		respondError(c, http.StatusConflict, "username is already registered")
	case errors.Is(err, auth.ErrUsernameRequired), errors.Is(err, auth.ErrUsernameInvalid):
		respondBadRequest(c, err.Error())
	case err != nil:
		respondInternalError(c, err, "create user")
	default:
		if u.audit != nil {
			u.audit.LogAdmin(currentUserID(c), "user_create", "Created user "+user.Username)
		}
		c.JSON(http.StatusCreated, user)
	}
}

// List handles GET /api/users (admin only).
func (u *UsersController) List(c *gin.Context) {
	list, err := u.auth.ListUsers()
	if err != nil {
		respondInternalError(c, err, "list users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": list, "total": len(list)})
}
