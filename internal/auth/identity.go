package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Service checks advisor access tokens and issues visitor keys. Full
// account flows live elsewhere; the chat edge only needs to know
// whether a request speaks for an advisor and which conversation a
// visitor owns.
type Service struct {
	tokens     map[string]struct{}
	headerName string
}

// NewService constructs the identity service from the configured
// advisor token list.
func NewService(advisorTokens []string) *Service {
	tokens := make(map[string]struct{}, len(advisorTokens))
	for _, t := range advisorTokens {
		if t != "" {
			tokens[t] = struct{}{}
		}
	}
	return &Service{
		tokens:     tokens,
		headerName: "Authorization",
	}
}

// Authorize reports whether the token belongs to an advisor.
func (s *Service) Authorize(token string) bool {
	_, ok := s.tokens[token]
	return ok
}

// AdvisorMiddleware rejects requests lacking a valid advisor token.
func (s *Service) AdvisorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.ExtractToken(c)
		if token == "" || !s.Authorize(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		c.Next()
	}
}

// ExtractToken pulls the bearer token from the Authorization header,
// falling back to the token query parameter for websocket upgrades,
// which cannot carry custom headers from the browser.
func (s *Service) ExtractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return c.Query("token")
}

// NewVisitorKey mints an opaque conversation key for a new visitor.
func NewVisitorKey() string {
	return uuid.NewString()
}
