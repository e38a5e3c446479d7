package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"watchpost/internal/api/types"
	"watchpost/internal/storage"
)

// SessionHeader carries the operator session token.
const SessionHeader = "X-Session-Token"

// Handler handles authentication-related HTTP requests
type Handler struct {
	repos    *storage.Repositories
	sessions *SessionManager
}

// NewHandler creates a new authentication handler
func NewHandler(repos *storage.Repositories, sessions *SessionManager) *Handler {
	return &Handler{repos: repos, sessions: sessions}
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Username string `json:"username" binding:"required,min=1,max=50"`
	Password string `json:"password" binding:"required,min=4"`
}

// LoginResponse represents the login response payload
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      UserInfo  `json:"user"`
}

// UserInfo represents user information in responses
type UserInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Login handles POST /api/auth/login.
//
// Verifies the password and issues a session token. Accounts without a
// stored password hash cannot log in.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	user, err := h.repos.Users.First(c.Request.Context(), "username = ?", req.Username)
	if err != nil || !user.Active || user.PasswordHash == nil {
		c.JSON(http.StatusUnauthorized, types.UnauthorizedErrorResponse("Invalid credentials"))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, types.UnauthorizedErrorResponse("Invalid credentials"))
		return
	}

	token, expiresAt, err := h.sessions.Issue(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to create session"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      UserInfo{ID: user.ID, Username: user.Username},
	}))
}

// Logout handles POST /api/auth/logout by revoking the presented session.
func (h *Handler) Logout(c *gin.Context) {
	token := c.GetHeader(SessionHeader)
	if token == "" {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Session token header required"))
		return
	}

	if err := h.sessions.Revoke(c.Request.Context(), token); err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to revoke session"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{"message": "Logged out successfully"}))
}

// Me handles GET /api/auth/me and returns the session's account.
func (h *Handler) Me(c *gin.Context) {
	user, err := h.sessions.Resolve(c.Request.Context(), c.GetHeader(SessionHeader))
	if err != nil {
		c.JSON(http.StatusUnauthorized, types.UnauthorizedErrorResponse("Invalid or expired session"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(UserInfo{
		ID:       user.ID,
		Username: user.Username,
	}))
}
