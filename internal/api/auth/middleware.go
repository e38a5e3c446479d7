package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"watchpost/internal/api/types"
	"watchpost/internal/storage"
)

// APIKeyHeader carries the worker credential.
const APIKeyHeader = "X-API-Key"

// Context keys set by the middlewares.
const (
	ContextUser   = "auth_user"
	ContextAPIKey = "auth_api_key"
)

// RequireSession authenticates operator requests via X-Session-Token and
// stores the resolved account in the context.
func RequireSession(sessions *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := sessions.Resolve(c.Request.Context(), c.GetHeader(SessionHeader))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.UnauthorizedErrorResponse("Invalid or expired session"))
			return
		}

		c.Set(ContextUser, user)
		c.Next()
	}
}

// RequireAPIKey authenticates worker requests via X-API-Key.
//
// The key must exist and be active, its owning account must be active, and
// when the key carries an IP allow-list the request source must match one
// entry exactly. X-Real-IP wins over the transport address so deployments
// behind a reverse proxy see the real client.
func RequireAPIKey(repos *storage.Repositories) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader(APIKeyHeader)
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.UnauthorizedErrorResponse("API key required"))
			return
		}

		key, err := repos.APIKeys.First(c.Request.Context(), "key = ? AND active = 1", presented)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.UnauthorizedErrorResponse("Invalid API key"))
			return
		}

		sourceIP := requestSourceIP(c)
		if !ipAllowed(key, sourceIP) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.ForbiddenErrorResponse("Source address not allowed for this key"))
			return
		}

		user, err := repos.Users.GetByID(c.Request.Context(), key.UserID)
		if err != nil || !user.Active {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.ForbiddenErrorResponse("Account is disabled"))
			return
		}

		touchAPIKey(c.Request.Context(), repos, key, sourceIP)

		c.Set(ContextAPIKey, key)
		c.Set(ContextUser, user)
		c.Next()
	}
}

// requestSourceIP prefers the X-Real-IP header over the transport address.
func requestSourceIP(c *gin.Context) string {
	if real := strings.TrimSpace(c.GetHeader("X-Real-IP")); real != "" {
		return real
	}
	return c.ClientIP()
}

func ipAllowed(key *storage.APIKey, sourceIP string) bool {
	if key.AllowedIPs == nil || strings.TrimSpace(*key.AllowedIPs) == "" {
		return true
	}
	for _, allowed := range strings.Split(*key.AllowedIPs, ",") {
		if strings.TrimSpace(allowed) == sourceIP {
			return true
		}
	}
	return false
}

// touchAPIKey records the last use of the key. Bookkeeping is best-effort;
// a failed update never fails the request.
func touchAPIKey(ctx context.Context, repos *storage.Repositories, key *storage.APIKey, sourceIP string) {
	now := time.Now().UTC()
	key.LastUsedAt = &now
	key.LastUsedIP = &sourceIP
	if err := repos.APIKeys.Update(ctx, key); err != nil {
		log.Warn().Err(err).Int64("api_key_id", key.ID).Msg("Failed to record API key use")
	}
}

// SessionUser returns the account stored by RequireSession or RequireAPIKey.
func SessionUser(c *gin.Context) *storage.User {
	if v, ok := c.Get(ContextUser); ok {
		if user, ok := v.(*storage.User); ok {
			return user
		}
	}
	return nil
}

// RequestAPIKey returns the credential stored by RequireAPIKey.
func RequestAPIKey(c *gin.Context) *storage.APIKey {
	if v, ok := c.Get(ContextAPIKey); ok {
		if key, ok := v.(*storage.APIKey); ok {
			return key
		}
	}
	return nil
}
