package httpserver

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"dialogger/internal/db"
)

// HashToken returns the hex SHA-256 of a plaintext device token. Tokens are
// stored and looked up only in hashed form.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// bearerToken extracts the token from an Authorization header, or "" when
// the header is missing or not a bearer scheme.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// authenticateDevice resolves the request's bearer token to a device. An
// unknown or missing token is a 401; a known but disabled device is a 403.
func (s *Server) authenticateDevice(r *http.Request) (*db.Device, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, NewUnauthorizedError("Missing or invalid Authorization header")
	}

	tokenHash := HashToken(token)

	var device *db.Device
	if s.cache != nil {
		if cached, ok := s.cache.GetDevice(r.Context(), tokenHash); ok {
			device = cached
		}
	}

	if device == nil {
		found, err := s.deviceStore.GetDeviceByTokenHash(r.Context(), tokenHash)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil, NewUnauthorizedError("Unknown device token")
			}
			return nil, err
		}
		device = found

		if s.cache != nil {
			s.cache.PutDevice(r.Context(), device)
		}
	}

	if !device.IsEnabled {
		return nil, NewForbiddenError("Device is disabled")
	}

	return device, nil
}

// checkStaticToken compares a bearer token against a configured secret in
// constant time.
func checkStaticToken(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	token := bearerToken(r)
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

// AdminAuthMiddleware guards the device management endpoints.
func (s *Server) AdminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !checkStaticToken(r, s.params.AdminToken) {
			s.respondError(w, http.StatusUnauthorized, "Invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// InternalAuthMiddleware guards service-to-service endpoints. With no
// INTERNAL_TOKEN configured the surface stays closed.
func (s *Server) InternalAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !checkStaticToken(r, s.params.InternalToken) {
			s.respondError(w, http.StatusUnauthorized, "Invalid internal token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
