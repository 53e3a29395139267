package admin

import (
	"net/http"

	"github.com/craftzone/craftzone-api/internal/middleware"
	"github.com/craftzone/craftzone-api/internal/pkg/logger"
	"github.com/craftzone/craftzone-api/internal/pkg/response"
)

// RequirePermission checks the caller's role once at the route boundary.
// It must run after middleware.Auth.
func RequirePermission(perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := Role(middleware.GetRole(r.Context()))
			if !Can(role, perm) {
				logger.FromContext(r.Context()).Warn().
					Str("user_id", middleware.GetUserID(r.Context()).String()).
					Str("role", string(role)).
					Str("permission", string(perm)).
					Msg("Permission denied")
				response.Forbidden(w, "Permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireStaff lets through any role that holds at least one permission.
func RequireStaff() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsStaff(Role(middleware.GetRole(r.Context()))) {
				response.Forbidden(w, "Permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
