package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// APIKeyMiddleware guards server-to-server routes with a shared key.
type APIKeyMiddleware struct {
	headerName string
	keyHash    string
}

// NewAPIKeyMiddleware builds the guard. An empty key rejects every request.
func NewAPIKeyMiddleware(headerName, key string) *APIKeyMiddleware {
	m := &APIKeyMiddleware{headerName: headerName}
	if key != "" {
		m.keyHash = HashAPIKey(key)
	}
	return m
}

func (m *APIKeyMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(m.headerName)
		if m.keyHash == "" || key == "" {
			writeError(w, http.StatusUnauthorized, "missing API key")
			return
		}
		if subtle.ConstantTimeCompare([]byte(HashAPIKey(key)), []byte(m.keyHash)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
