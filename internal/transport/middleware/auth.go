package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nightslayer18/skeenode-contracts/internal/auth"
)

const (
	AuthHeaderKey       = "Authorization"
	APIKeyHeaderKey     = "X-API-Key"
	ContextUserKey      = "user"
	ContextAgentKey     = "agent"
	ContextRequestIDKey = "request_id"
)

// AuthConfig holds authentication middleware configuration.
type AuthConfig struct {
	JWTService  *auth.JWTService
	APIKeyStore auth.APIKeyStore
	SkipPaths   []string
}

// AuthMiddleware validates either an operator JWT or an agent API key,
// whichever the caller presents (§6: JWT for operator endpoints, API key
// for agent endpoints).
func AuthMiddleware(config AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, path := range config.SkipPaths {
			if matchPath(c.Request.URL.Path, path) {
				c.Next()
				return
			}
		}

		if claims := tryJWTAuth(c, config.JWTService); claims != nil {
			c.Set(ContextUserKey, claims)
			c.Next()
			return
		}

		if info := tryAPIKeyAuth(c, config.APIKeyStore); info != nil {
			c.Set(ContextAgentKey, info)
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "authentication required",
			"hint":  "provide Bearer token or X-API-Key header",
		})
	}
}

func tryJWTAuth(c *gin.Context, jwtService *auth.JWTService) *auth.Claims {
	if jwtService == nil {
		return nil
	}

	authHeader := c.GetHeader(AuthHeaderKey)
	if authHeader == "" {
		return nil
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return nil
	}

	claims, err := jwtService.ValidateToken(parts[1])
	if err != nil {
		return nil
	}

	return claims
}

func tryAPIKeyAuth(c *gin.Context, store auth.APIKeyStore) *auth.APIKeyInfo {
	if store == nil {
		return nil
	}

	apiKey := c.GetHeader(APIKeyHeaderKey)
	if apiKey == "" {
		return nil
	}

	info, err := store.ValidateKey(c.Request.Context(), apiKey)
	if err != nil {
		return nil
	}

	return info
}

// GetUserFromContext retrieves the operator claims an AuthMiddleware pass set.
func GetUserFromContext(c *gin.Context) (*auth.Claims, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}

// GetAgentFromContext retrieves the agent API key info an AuthMiddleware
// pass set.
func GetAgentFromContext(c *gin.Context) (*auth.APIKeyInfo, bool) {
	value, exists := c.Get(ContextAgentKey)
	if !exists {
		return nil, false
	}
	info, ok := value.(*auth.APIKeyInfo)
	return info, ok
}

// RequireRole rejects requests from an operator below the required role,
// and any request with no operator claims at all (an agent key never
// satisfies RequireRole).
func RequireRole(required auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetUserFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		if !claims.Role.HasPermission(required) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "insufficient permissions",
				"required": required,
				"current":  claims.Role,
			})
			return
		}

		c.Next()
	}
}

// RequireAgent rejects any request that didn't authenticate with an agent
// API key (an operator JWT never satisfies RequireAgent).
func RequireAgent() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetAgentFromContext(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "agent api key required",
			})
			return
		}
		c.Next()
	}
}

func matchPath(path, pattern string) bool {
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(path, prefix)
	}
	return path == pattern
}
