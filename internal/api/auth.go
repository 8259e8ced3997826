package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/zulandar/jobchat/internal/config"
)

// DevIdentityHeader carries the caller id when no JWT secret is configured.
const DevIdentityHeader = "X-User-ID"

const identityKey = "jobchat.identity"

var (
	errNoIdentity   = errors.New("authentication required")
	errBadToken     = errors.New("invalid token")
	errWrongSubject = errors.New("token has no subject")
)

// Authenticator resolves the caller identity of a request.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator creates an Authenticator. An empty secret enables dev
// mode, where the identity is read from DevIdentityHeader.
func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer}
}

// DevMode reports whether identities come from an unauthenticated header.
func (a *Authenticator) DevMode() bool { return len(a.secret) == 0 }

// Identify returns the caller id, or "" when the request carries no
// credentials. Malformed or invalid credentials are an error.
func (a *Authenticator) Identify(r *http.Request) (string, error) {
	if a.DevMode() {
		return strings.TrimSpace(r.Header.Get(DevIdentityHeader)), nil
	}

	raw := bearerToken(r)
	if raw == "" {
		return "", nil
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", errBadToken, err)
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return "", fmt.Errorf("%w: issuer mismatch", errBadToken)
	}
	if claims.Subject == "" {
		return "", errWrongSubject
	}
	return claims.Subject, nil
}

// SignToken issues an HS256 token for user. It is meant for development
// and tests; production tokens come from the marketplace's auth service.
func SignToken(secret, issuer, user string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("api: jwt secret is required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   user,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// optionalAuth records the caller identity when present and rejects
// invalid credentials.
func (a *Authenticator) optionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := a.Identify(c.Request)
		if err != nil {
			abort(c, http.StatusUnauthorized, err)
			return
		}
		if id != "" {
			c.Set(identityKey, id)
		}
		c.Next()
	}
}

// requireAuth rejects requests without a caller identity.
func (a *Authenticator) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := a.Identify(c.Request)
		if err != nil {
			abort(c, http.StatusUnauthorized, err)
			return
		}
		if id == "" {
			abort(c, http.StatusUnauthorized, errNoIdentity)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// identity returns the id set by the auth middleware, or "".
func identity(c *gin.Context) string {
	return c.GetString(identityKey)
}
