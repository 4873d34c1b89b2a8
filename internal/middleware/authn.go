// Package middleware wires the ingress request pipeline
// describes: authenticate, detect wire format from the route, canonicalize,
// check the response cache, dispatch to a transactor, canonicalize the
// response back, store it in cache, and re-encode to the caller's format.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth compares the Authorization header's bearer token against want
// in constant time explicit defense against timing
// side-channels on the token comparison.
func BearerAuth(want string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if want == "" {
					next.ServeHTTP(w, r)
					return
				}
				got := bearerToken(r)
				if !constantTimeEqual(got, want) {
					http.Error(w, `{"type":"auth_failure","message":"invalid or missing bearer token"}`, http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
			})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if k := r.Header.Get("x-api-key"); k != "" {
		return k
	}
	if k := r.URL.Query().Get("key"); k != "" {
		return k
	}
	return ""
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		// Still run a comparison against a same-length dummy so the early
		// return doesn't leak length via timing on top of the value.
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
