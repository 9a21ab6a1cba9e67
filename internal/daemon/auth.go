package daemon

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"tillpoint/internal/api"
)

var errUnauthorized = errors.New("missing or invalid bearer token")

// authMiddleware validates bearer tokens on every API request.
// If token is empty, no authentication is required and all requests pass through.
// Otherwise, requests must include "Authorization: Bearer <token>" header.
func (s *apiServer) authMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	want := []byte(token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="tillpoint"`)
			s.writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{
				Error: errUnauthorized.Error(),
				Code:  api.CodeUnauthorized,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
