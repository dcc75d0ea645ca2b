package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// JWT ACTOR
// =============================================================================
// Tokens are issued elsewhere (SSO, HR portal). The API only verifies the
// HS256 signature and reads who the caller is (sub) and what they may do
// (role). The engine trusts that role for its transition gates.

// Claims is the token payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid token")
)

// Authenticator verifies bearer tokens.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// IssueToken signs a token for actor. Used by tests and the dev token CLI flag.
func (a *Authenticator) IssueToken(actor leave.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseToken returns the actor a token was issued to.
func (a *Authenticator) ParseToken(tokenString string) (leave.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return leave.Actor{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return leave.Actor{}, errInvalidToken
	}
	role := leave.Role(claims.Role)
	if !knownRole(role) {
		return leave.Actor{}, fmt.Errorf("%w: unknown role %q", errInvalidToken, claims.Role)
	}
	return leave.Actor{ID: claims.Subject, Role: role}, nil
}

func knownRole(r leave.Role) bool {
	switch r {
	case leave.RoleEmployee, leave.RoleReviewer, leave.RoleHOD, leave.RoleDean, leave.RoleAdmin:
		return true
	}
	return false
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type actorKey struct{}

// Middleware rejects requests without a valid bearer token and stores the
// actor in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeError(w, http.StatusUnauthorized, "Unauthenticated", errMissingToken.Error())
			return
		}
		actor, err := a.ParseToken(strings.TrimSpace(raw))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthenticated", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// ActorFrom returns the authenticated actor, if any.
func ActorFrom(ctx context.Context) (leave.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(leave.Actor)
	return actor, ok
}

// isStaff is true for every role that may see other employees' data.
func isStaff(actor leave.Actor) bool {
	return actor.Role != leave.RoleEmployee
}

// canSee reports whether actor may read employee id's data.
func canSee(actor leave.Actor, id leave.EmployeeID) bool {
	return isStaff(actor) || actor.ID == string(id)
}
