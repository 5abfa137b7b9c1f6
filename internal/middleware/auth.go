package middleware

import (
	"context"
	"net/http"

	"github.com/zhouzirui/productivity-assistant/backend/internal/broker"
	"github.com/zhouzirui/productivity-assistant/backend/internal/wire"
	"github.com/zhouzirui/productivity-assistant/backend/pkg/utils"
)

type userKey struct{}

// BearerAuth rejects requests without a known bearer token with 401.
func BearerAuth(auth broker.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := wire.BearerToken(r.Header.Get(wire.HeaderAuthorization))
			if !ok || auth == nil {
				utils.RespondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			user, ok := auth.Authenticate(token)
			if !ok {
				utils.RespondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
		})
	}
}

// UserFromContext returns the user authenticated by BearerAuth.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey{}).(string)
	return user, ok
}
