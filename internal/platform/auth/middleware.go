package auth

import (
	"net/http"
	"strings"

	"github.com/shophub/marketplace/internal/platform/httpx"
)

// Headers populated by the API gateway after it has verified the caller's
// session. This service trusts them on its internal network only.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRoles = "X-User-Roles"
)

// Middleware extracts the forwarded identity headers and stores the identity
// on the request context. Requests without identity headers proceed as
// anonymous; handlers that require a principal enforce it themselves or via
// RequireIdentity.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if uid == "" {
				next.ServeHTTP(w, r)
				return
			}

			identity := &Identity{
				UID:   uid,
				Email: strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
				Roles: parseRoles(r.Header.Get(HeaderUserRoles)),
			}
			if len(identity.Roles) == 0 {
				identity.Roles = []string{RoleBuyer}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireIdentity rejects anonymous requests with 401.
func RequireIdentity(next http.Handler) http.Handler {
	if next == nil {
		next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); !ok {
			httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects requests whose identity lacks the given role with 403.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
				return
			}
			if !identity.HasRole(role) && !identity.IsAdmin() {
				httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "insufficient permissions", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseRoles(raw string) []string {
	var roles []string
	for _, role := range strings.Split(raw, ",") {
		if role = strings.ToLower(strings.TrimSpace(role)); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
