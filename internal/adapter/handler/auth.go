package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rl1809/quick-commerce/internal/core/domain"
)

var errInvalidToken = errors.New("invalid token")

// Claims is the bearer token payload. Subject is the account id.
type Claims struct {
	Role      domain.Role `json:"role"`
	UserID    string      `json:"user_id,omitempty"`
	StoreID   string      `json:"store_id,omitempty"`
	PartnerID string      `json:"partner_id,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 tokens issued by the identity service.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Parse(tokenStr string) (domain.AuthContext, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return domain.AuthContext{}, errInvalidToken
	}
	if !claims.Role.Valid() || claims.Subject == "" {
		return domain.AuthContext{}, errInvalidToken
	}
	// Each non-admin role must carry the id it acts as.
	switch {
	case claims.Role == domain.RoleUser && claims.UserID == "",
		claims.Role == domain.RoleStore && claims.StoreID == "",
		claims.Role == domain.RoleRider && claims.PartnerID == "":
		return domain.AuthContext{}, errInvalidToken
	}

	return domain.AuthContext{
		AccountID: claims.Subject,
		Role:      claims.Role,
		UserID:    claims.UserID,
		StoreID:   claims.StoreID,
		PartnerID: claims.PartnerID,
	}, nil
}

// Issue signs a token for auth. Used by tooling and tests; production tokens come
// from the identity service.
func (a *Authenticator) Issue(auth domain.AuthContext, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:      auth.Role,
		UserID:    auth.UserID,
		StoreID:   auth.StoreID,
		PartnerID: auth.PartnerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   auth.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

type authContextKey struct{}

func WithAuth(ctx context.Context, auth domain.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

func AuthFrom(ctx context.Context) (domain.AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(domain.AuthContext)
	return auth, ok
}

// bearerToken accepts "Authorization: Bearer <token>" or, for websocket clients
// that cannot set headers, a token query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.Fields(h)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearerToken(r)
		if tokenStr == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing authorization"})
			return
		}
		auth, err := a.Parse(tokenStr)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid or expired token"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), auth)))
	})
}

func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, ok := AuthFrom(r.Context())
			if !ok || !auth.HasRole(roles...) {
				writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
