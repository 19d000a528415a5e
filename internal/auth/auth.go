// Package auth resolves the operator identity that owns a transcription
// session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/medai-health/medai/backend/internal/config"
)

// DefaultOwner is attributed to anonymous callers when auth is optional.
const DefaultOwner = "default"

var (
	// ErrMissingToken is returned when auth is required and no token was sent.
	ErrMissingToken = errors.New("authentication required")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the token fields we read. Subject wins over the legacy fields.
type Claims struct {
	gojwt.RegisteredClaims
	Email  string `json:"email,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// Owner picks the identity the token speaks for.
func (c *Claims) Owner() string {
	switch {
	case c.Subject != "":
		return c.Subject
	case c.Email != "":
		return c.Email
	default:
		return c.UserID
	}
}

// Identity is the resolved caller.
type Identity struct {
	Owner         string
	Authenticated bool
}

// Resolver verifies bearer tokens.
type Resolver struct {
	cfg config.AuthConfig
}

// NewResolver returns a resolver for cfg.
func NewResolver(cfg config.AuthConfig) *Resolver {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "HS256"
	}
	return &Resolver{cfg: cfg}
}

// Resolve extracts and verifies a token from r. Browsers cannot set headers
// on WebSocket upgrades, so the "token" query parameter and "access_token"
// cookie are accepted alongside the Authorization header.
func (rs *Resolver) Resolve(r *http.Request) (Identity, error) {
	raw := tokenFromRequest(r)
	if raw == "" {
		if rs.cfg.Required {
			return Identity{}, ErrMissingToken
		}
		return Identity{Owner: DefaultOwner}, nil
	}
	if rs.cfg.SecretKey == "" {
		if rs.cfg.Required {
			return Identity{}, fmt.Errorf("%w: no signing key configured", ErrInvalidToken)
		}
		return Identity{Owner: DefaultOwner}, nil
	}

	claims, err := rs.Parse(raw)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Owner: claims.Owner(), Authenticated: true}, nil
}

// Parse verifies raw and returns its claims.
func (rs *Resolver) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := gojwt.ParseWithClaims(raw, claims, func(t *gojwt.Token) (any, error) {
		if t.Method.Alg() != rs.cfg.Algorithm {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return []byte(rs.cfg.SecretKey), nil
	}, gojwt.WithValidMethods([]string{rs.cfg.Algorithm}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Owner() == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return claims, nil
}

// Sign issues a token for owner. Used by tooling and tests.
func (rs *Resolver) Sign(claims *Claims) (string, error) {
	method := gojwt.GetSigningMethod(rs.cfg.Algorithm)
	if method == nil {
		return "", fmt.Errorf("unsupported signing method %q", rs.cfg.Algorithm)
	}
	return gojwt.NewWithClaims(method, claims).SignedString([]byte(rs.cfg.SecretKey))
}

// Middleware resolves the caller and stores the identity on the request
// context. Resolution failures answer 401.
func (rs *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := rs.Resolve(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

type identityKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by Middleware. Callers outside the
// middleware get the anonymous identity.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityKey{}).(Identity); ok {
		return id
	}
	return Identity{Owner: DefaultOwner}
}

func tokenFromRequest(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	if c, err := r.Cookie("access_token"); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}
