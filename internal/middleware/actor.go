package middleware

import (
	"net/http"

	"github.com/rpattn/fieldsync/internal/auth"
)

// ActorHeader names the user recorded in the activity log.
const ActorHeader = "X-User"

// Actor copies the X-User header into the request context.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := r.Header.Get(ActorHeader); actor != "" {
			r = r.WithContext(auth.ContextWithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
