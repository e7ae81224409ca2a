package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

// userIDKey is the gin context key the middleware stores the resolved user
// id under.
const userIDKey = "user_id"

var errInvalidToken = errors.New("invalid or expired token")

// Auth issues and verifies bearer tokens. Tokens are HS256 JWTs carrying
// the user id; every issued token is also recorded in the access token
// table so it can be revoked before its expiry.
type Auth struct {
	users  relationaldb.UserRepository
	secret []byte
	ttl    time.Duration
}

func NewAuth(users relationaldb.UserRepository, secret string, ttl time.Duration) *Auth {
	return &Auth{users: users, secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed token for the user and records it for revocation.
func (a *Auth) Issue(ctx context.Context, userID string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(a.ttl)

	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	record := &relationaldb.AccessToken{
		Token:     signed,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := a.users.CreateToken(ctx, record); err != nil {
		return "", time.Time{}, fmt.Errorf("store token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature and expiry, then confirms the token has not
// been revoked. Returns the user id.
func (a *Auth) Verify(ctx context.Context, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", errInvalidToken
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errInvalidToken
	}

	record, err := a.users.GetToken(ctx, token)
	if err != nil {
		return "", errInvalidToken
	}
	if record.UserID != claims.Subject || time.Now().After(record.ExpiresAt) {
		return "", errInvalidToken
	}
	return record.UserID, nil
}

// Revoke deletes the token record; the JWT becomes unusable immediately.
func (a *Auth) Revoke(ctx context.Context, token string) error {
	return a.users.DeleteToken(ctx, token)
}

// middleware authenticates the request from the Authorization header (or a
// token query parameter) and stores the user id on the context.
func (a *Auth) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				APIResponse{Success: false, Message: "authentication required"})
			return
		}
		userID, err := a.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				APIResponse{Success: false, Message: errInvalidToken.Error()})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// requireUser authenticates a request on a route that is not behind the
// middleware (the pool GET dispatcher serves both public and private
// paths). Writes the 401 itself and returns "" on failure.
func (s *Server) requireUser(c *gin.Context) string {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, APIResponse{Success: false, Message: "authentication required"})
		return ""
	}
	userID, err := s.auth.Verify(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, APIResponse{Success: false, Message: errInvalidToken.Error()})
		return ""
	}
	return userID
}
