package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zakiachsan27/CallExpert-sub000/utils"
)

// PartyAuthMiddleware resolves the calling party (user or expert) from the
// bearer token and injects it into the request context. Routes behind it can
// assume an authenticated identity; whether that identity belongs to the
// booking is checked by the consultation controller.
func PartyAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, role, err := utils.ExtractPartyFromRequest(r)
		if err != nil {
			msg := "Unauthorized"
			if strings.Contains(err.Error(), "expired") {
				msg = "Session expired, please log in again"
			}
			utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{
				Success: false,
				Message: msg,
			})
			return
		}
		ctx := context.WithValue(r.Context(), utils.PartyIDKey, id)
		ctx = context.WithValue(ctx, utils.PartyRoleKey, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
