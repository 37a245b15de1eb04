// Package authmw authenticates API callers with a shared bearer token.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const challenge = `Bearer realm="lifeline"`

// BearerToken returns middleware that admits requests whose Authorization
// header carries "Bearer <token>". Comparison is constant time. An empty
// token rejects every request.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				unauthorized(w, "missing or malformed authorization header")
				return
			}
			if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
