package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"dialogger/internal/db"
)

const minTokenLength = 16

type createDeviceRequest struct {
	DeviceID   uuid.UUID `json:"device_id"`
	PointID    uuid.UUID `json:"point_id"`
	RegisterID uuid.UUID `json:"register_id"`
	TokenPlain string    `json:"token_plain"`
	IsEnabled  *bool     `json:"is_enabled"`
}

// HandleCreateDevice registers a recorder device. The plaintext token is
// hashed immediately and never stored or logged.
func (s *Server) HandleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.handleError(w, NewValidationError("Invalid request body"))
		return
	}

	if req.DeviceID == uuid.Nil || req.PointID == uuid.Nil || req.RegisterID == uuid.Nil {
		s.handleError(w, NewValidationError("device_id, point_id and register_id are required"))
		return
	}
	if len(req.TokenPlain) < minTokenLength {
		s.handleError(w, NewValidationError("token_plain must be at least 16 characters"))
		return
	}

	enabled := true
	if req.IsEnabled != nil {
		enabled = *req.IsEnabled
	}

	device := &db.Device{
		DeviceID:   req.DeviceID,
		PointID:    req.PointID,
		RegisterID: req.RegisterID,
		TokenHash:  HashToken(req.TokenPlain),
		IsEnabled:  enabled,
	}

	if err := s.deviceStore.CreateDevice(r.Context(), device); err != nil {
		if errors.Is(err, db.ErrAlreadyExists) {
			s.handleError(w, NewConflictError("Device already exists"))
			return
		}
		s.handleError(w, err)
		return
	}

	s.log.Info("Device created", "device_id", device.DeviceID, "point_id", device.PointID)
	s.respondJSON(w, http.StatusCreated, device)
}

func (s *Server) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.deviceStore.ListDevices(r.Context())
	if err != nil {
		s.handleError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, devices)
}

type updateDeviceRequest struct {
	IsEnabled *bool `json:"is_enabled"`
}

// HandleUpdateDevice toggles a device's is_enabled flag.
func (s *Server) HandleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, err := uuid.Parse(chi.URLParam(r, "deviceID"))
	if err != nil {
		s.handleError(w, NewValidationError("Invalid device id"))
		return
	}

	var req updateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.handleError(w, NewValidationError("Invalid request body"))
		return
	}
	if req.IsEnabled == nil {
		s.handleError(w, NewValidationError("is_enabled is required"))
		return
	}

	device, err := s.deviceStore.SetDeviceEnabled(r.Context(), deviceID, *req.IsEnabled)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.handleError(w, NewNotFoundError("Device not found"))
			return
		}
		s.handleError(w, err)
		return
	}

	// Disabling must take effect now, not after the cache TTL.
	if s.cache != nil {
		s.cache.InvalidateToken(r.Context(), device.TokenHash)
	}

	s.log.Info("Device updated", "device_id", device.DeviceID, "is_enabled", device.IsEnabled)
	s.respondJSON(w, http.StatusOK, device)
}
