package handlers

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Vivekb0311/sla/internal/config"
	"github.com/Vivekb0311/sla/services"
)

// AuthMiddleware authenticates requests with either a user JWT (HS256) or a
// machine API key. API keys win: they are checked first so automation tokens
// never hit JWT parsing.
type AuthMiddleware struct {
	APIKeyService *services.APIKeyService
	jwtSecret     []byte
}

func NewAuthMiddleware(apiKeyService *services.APIKeyService) *AuthMiddleware {
	secret := config.App.JWTSecret
	if secret == "" {
		log.Fatal("Missing JWT_SECRET configuration")
	}
	return &AuthMiddleware{
		APIKeyService: apiKeyService,
		jwtSecret:     []byte(secret),
	}
}

// RequireAuth validates the Authorization header and stores the caller
// identity in the gin context.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			c.Abort()
			return
		}

		token, err := extractBearerToken(authHeader)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		// API keys are prefixed so a database roundtrip only happens for them
		if strings.HasPrefix(token, "sla_") && m.APIKeyService != nil {
			apiKey, err := m.APIKeyService.ValidateKey(c.Request.Context(), token)
			if err == nil {
				c.Set("user_id", apiKey.CreatedBy)
				c.Set("user_email", "api-key@sla.local")
				c.Set("is_api_key", true)
				c.Set("api_key_id", apiKey.ID)
				// Update last used timestamp (async, don't block request)
				go func() { _ = m.APIKeyService.UpdateLastUsed(apiKey.ID) }()
				c.Next()
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			c.Abort()
			return
		}

		claims, err := m.validateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token: " + err.Error()})
			c.Abort()
			return
		}

		c.Set("user_id", claims.Subject)
		c.Set("user_email", claims.Email)
		c.Set("is_api_key", false)

		c.Next()
	}
}

// TokenClaims are the JWT claims the middleware cares about.
type TokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (m *AuthMiddleware) validateToken(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

func extractBearerToken(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("authorization header must be in format 'Bearer <token>'")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", fmt.Errorf("token is empty")
	}
	return token, nil
}

// callerID returns the authenticated principal set by RequireAuth.
func callerID(c *gin.Context) string {
	if id, ok := c.Get("user_id"); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
