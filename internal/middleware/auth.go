// Package middleware provides the HTTP middleware chain: tracing, CORS, rate
// limiting, metrics and the authentication gate.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/careslot/careslot/internal/domain/user"
	"github.com/careslot/careslot/internal/errors"
	"github.com/careslot/careslot/internal/httputil"
	"github.com/careslot/careslot/internal/logging"
	"github.com/careslot/careslot/internal/token"
)

type identityKey struct{}

// Identity is the authenticated caller attached to the request context by the
// auth gate.
type Identity struct {
	UserID string
	Role   user.Role
	Email  string
	Scopes []string
}

// Ref converts the identity to the acting-user reference services expect.
func (id Identity) Ref() user.Ref {
	return user.Ref{ID: id.UserID, Role: id.Role}
}

// IdentityFrom extracts the authenticated identity from ctx.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// TokenValidator verifies a bearer token and returns its claims.
type TokenValidator interface {
	Validate(tokenString string) (*token.Claims, error)
}

// RoleRule grants access to a path prefix to a set of roles. An empty role
// set means any authenticated caller.
type RoleRule struct {
	Prefix string
	Roles  []user.Role
}

// Gate authenticates requests. Paths on the allow list pass through
// untouched; every other request must carry a valid access token. Requests
// that authenticate but lack the role required for the path are rejected
// with 403; authentication failures always take precedence and yield 401.
type Gate struct {
	validator   TokenValidator
	logger      *logging.Logger
	allowExact  map[string]bool
	allowPrefix []string
	rules       []RoleRule
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithAllowedPaths registers exact paths that bypass authentication.
func WithAllowedPaths(paths ...string) GateOption {
	return func(g *Gate) {
		for _, p := range paths {
			g.allowExact[p] = true
		}
	}
}

// WithAllowedPrefixes registers path prefixes that bypass authentication.
func WithAllowedPrefixes(prefixes ...string) GateOption {
	return func(g *Gate) {
		g.allowPrefix = append(g.allowPrefix, prefixes...)
	}
}

// WithRoleRules registers prefix-based role requirements, checked in order;
// the first matching prefix wins.
func WithRoleRules(rules ...RoleRule) GateOption {
	return func(g *Gate) {
		g.rules = append(g.rules, rules...)
	}
}

// NewGate creates the authentication gate.
func NewGate(validator TokenValidator, logger *logging.Logger, opts ...GateOption) *Gate {
	g := &Gate{
		validator:  validator,
		logger:     logger,
		allowExact: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handler returns the gate as middleware.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.allowed(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := g.authenticate(r)
		if err != nil {
			g.reject(w, r, err)
			return
		}

		identity := Identity{
			UserID: claims.Subject,
			Role:   user.Role(claims.Role),
			Email:  claims.Email,
			Scopes: claims.Scopes,
		}

		if rule, ok := g.matchRule(r.URL.Path); ok && !roleAllowed(rule, identity.Role) {
			g.logger.LogSecurityEvent(r.Context(), "role_denied", map[string]interface{}{
				"user_id": identity.UserID,
				"role":    string(identity.Role),
				"path":    r.URL.Path,
			})
			httputil.WriteError(w, errors.Forbidden("insufficient role"))
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, identity)
		ctx = logging.WithUserID(ctx, identity.UserID)
		if identity.Role != "" {
			ctx = logging.WithRole(ctx, string(identity.Role))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gate) authenticate(r *http.Request) (*token.Claims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, errors.Unauthorized("missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return nil, errors.Unauthorized("invalid Authorization header format")
	}

	claims, err := g.validator.Validate(parts[1])
	if err != nil {
		return nil, err
	}
	if !token.IsAccess(claims) {
		return nil, errors.WrongTokenType()
	}
	if !user.Role(claims.Role).Valid() {
		return nil, errors.Unauthorized("token carries no usable role")
	}
	return claims, nil
}

func (g *Gate) allowed(path string) bool {
	if g.allowExact[path] {
		return true
	}
	for _, prefix := range g.allowPrefix {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *Gate) matchRule(path string) (RoleRule, bool) {
	for _, rule := range g.rules {
		if strings.HasPrefix(path, rule.Prefix) {
			return rule, true
		}
	}
	return RoleRule{}, false
}

func roleAllowed(rule RoleRule, role user.Role) bool {
	if len(rule.Roles) == 0 {
		return true
	}
	for _, allowed := range rule.Roles {
		if role == allowed {
			return true
		}
	}
	return false
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		svcErr = errors.Unauthorized("authentication failed")
	}
	g.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": svcErr.HTTPStatus,
	}).Warn("authentication failed")
	httputil.WriteErrorResponse(w, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message)
}

// GetUserID extracts the authenticated subject id from context.
func GetUserID(ctx context.Context) string {
	if id, ok := IdentityFrom(ctx); ok {
		return id.UserID
	}
	return ""
}

// GetUserRole extracts the authenticated role from context.
func GetUserRole(ctx context.Context) user.Role {
	if id, ok := IdentityFrom(ctx); ok {
		return id.Role
	}
	return ""
}
