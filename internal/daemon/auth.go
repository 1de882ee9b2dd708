package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// secretMiddleware guards trigger endpoints with the shared secret, accepted
// as "Authorization: Bearer <secret>" or a ?secret= query parameter. An empty
// configured secret disables the endpoints.
func secretMiddleware(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "triggers disabled: api.trigger_secret not set"})
			return
		}
		if !secretMatches(presentedSecret(r), secret) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		next(w, r)
	}
}

func presentedSecret(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("secret")
}

func secretMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
