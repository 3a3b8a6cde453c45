package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
)

// APIError represents the structure of error responses
type APIError struct {
	Error string `json:"error"`
}

// respondJSON sends a JSON response with the given status code
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.log.Error("Failed to encode JSON response", "error", err)
		}
	}
}

// respondError sends an error response with appropriate status code
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, APIError{Error: message})
}

// handleError maps typed errors to HTTP responses; anything unrecognized
// becomes a 500.
func (s *Server) handleError(w http.ResponseWriter, err error) {
	var validationErr *ValidationErr
	if errors.As(err, &validationErr) {
		s.respondError(w, http.StatusBadRequest, validationErr.Error())
		return
	}

	var unauthorizedErr *UnauthorizedErr
	if errors.As(err, &unauthorizedErr) {
		s.respondError(w, http.StatusUnauthorized, unauthorizedErr.Error())
		return
	}

	var forbiddenErr *ForbiddenErr
	if errors.As(err, &forbiddenErr) {
		s.respondError(w, http.StatusForbidden, forbiddenErr.Error())
		return
	}

	var notFoundErr *NotFoundErr
	if errors.As(err, &notFoundErr) {
		s.respondError(w, http.StatusNotFound, notFoundErr.Error())
		return
	}

	var tooLargeErr *TooLargeErr
	if errors.As(err, &tooLargeErr) {
		s.respondError(w, http.StatusRequestEntityTooLarge, tooLargeErr.Error())
		return
	}

	var conflictErr *ConflictErr
	if errors.As(err, &conflictErr) {
		s.respondError(w, http.StatusConflict, conflictErr.Error())
		return
	}

	s.log.Error("Internal server error", "error", err)
	s.respondError(w, http.StatusInternalServerError, "An unexpected error occurred")
}

type ValidationErr struct {
	Message string
}

func (e *ValidationErr) Error() string {
	return e.Message
}

func NewValidationError(message string) error {
	return &ValidationErr{Message: message}
}

type UnauthorizedErr struct {
	Message string
}

func (e *UnauthorizedErr) Error() string {
	return e.Message
}

func NewUnauthorizedError(message string) error {
	return &UnauthorizedErr{Message: message}
}

type ForbiddenErr struct {
	Message string
}

func (e *ForbiddenErr) Error() string {
	return e.Message
}

func NewForbiddenError(message string) error {
	return &ForbiddenErr{Message: message}
}

type NotFoundErr struct {
	Message string
}

func (e *NotFoundErr) Error() string {
	return e.Message
}

func NewNotFoundError(message string) error {
	return &NotFoundErr{Message: message}
}

type TooLargeErr struct {
	Message string
}

func (e *TooLargeErr) Error() string {
	return e.Message
}

func NewTooLargeError(message string) error {
	return &TooLargeErr{Message: message}
}

type ConflictErr struct {
	Message string
}

func (e *ConflictErr) Error() string {
	return e.Message
}

func NewConflictError(message string) error {
	return &ConflictErr{Message: message}
}
