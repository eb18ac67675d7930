package middleware

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/careslot/careslot/internal/domain/user"
	"github.com/careslot/careslot/internal/errors"
	"github.com/careslot/careslot/internal/httputil"
)

// RequireAuth rejects requests with no authenticated identity. Useful on
// routes mounted outside the gate's role rules.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFrom(r.Context()); !ok {
			httputil.Unauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRoles allows only callers holding one of the given roles.
func RequireRoles(roles ...user.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				httputil.Unauthorized(w, "")
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			httputil.WriteError(w, errors.Forbidden("insufficient role"))
		})
	}
}

// OwnerResolver maps a resource id from the URL to the id of the user who
// owns it.
type OwnerResolver func(ctx context.Context, resourceID string) (string, error)

// RequireOwnerOrAdmin allows the resource owner and admins through. The
// resource id is read from the mux route variable idVar and resolved to its
// owner; admins skip the lookup.
func RequireOwnerOrAdmin(resolve OwnerResolver, idVar string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				httputil.Unauthorized(w, "")
				return
			}
			if id.Role == user.RoleAdmin {
				next.ServeHTTP(w, r)
				return
			}

			resourceID := mux.Vars(r)[idVar]
			owner, err := resolve(r.Context(), resourceID)
			if err != nil {
				httputil.WriteError(w, err)
				return
			}
			if owner != id.UserID {
				httputil.WriteError(w, errors.Forbidden("not the resource owner"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
