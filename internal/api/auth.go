package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authMiddleware rejects requests that do not carry key. If key is empty,
// every request passes through. The key may be sent as "X-API-Key: <key>" or
// "Authorization: Bearer <key>".
func authMiddleware(key string, next http.HandlerFunc) http.HandlerFunc {
	if key == "" {
		return next
	}
	expected := []byte(key)
	return func(w http.ResponseWriter, r *http.Request) {
		if !keyMatches(expected, presentedKey(r)) {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		next(w, r)
	}
}

func presentedKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func keyMatches(expected []byte, presented string) bool {
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare(expected, []byte(presented)) == 1
}
