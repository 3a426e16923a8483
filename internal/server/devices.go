package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	apperrors "popup-events/internal/common/errors"
	"popup-events/internal/models"
)

type devicePayload struct {
	Token           string `json:"token"`
	DeviceID        string `json:"device_id"`
	DeviceName      string `json:"device_name"`
	Platform        string `json:"platform"`
	APNsEnvironment string `json:"apns_environment"`
	OSVersion       string `json:"os_version"`
	AppVersion      string `json:"app_version"`
	DeviceModel     string `json:"device_model"`
	Locale          string `json:"locale"`
	Timezone        string `json:"timezone"`
}

// handleRegisterDevice upserts a push token. Re-registering an existing
// token refreshes its metadata and reactivates it.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var p devicePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p.Token = strings.TrimSpace(p.Token)
	if p.Token == "" {
		s.writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	platform := strings.ToLower(p.Platform)
	if platform == "" {
		platform = models.PlatformIOS
	}
	if platform != models.PlatformIOS && platform != models.PlatformAndroid {
		s.writeError(w, http.StatusBadRequest, "platform must be ios or android")
		return
	}
	env := strings.ToLower(p.APNsEnvironment)
	if env == "" {
		env = models.APNsProduction
	}

	d := &models.DeviceToken{
		Token:           p.Token,
		DeviceID:        p.DeviceID,
		DeviceName:      p.DeviceName,
		Platform:        platform,
		APNsEnvironment: env,
		OSVersion:       p.OSVersion,
		AppVersion:      p.AppVersion,
		DeviceModel:     p.DeviceModel,
		Locale:          p.Locale,
		Timezone:        p.Timezone,
		IsActive:        true,
	}
	if err := s.devices.Register(r.Context(), d); err != nil {
		s.log.Error("register device", map[string]interface{}{"error": err})
		s.writeError(w, http.StatusInternalServerError, "failed to register device")
		return
	}

	s.log.Info("device registered", map[string]interface{}{
		"device_id": d.DeviceID,
		"platform":  d.Platform,
	})
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "device": d})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.ListAll(r.Context())
	if err != nil {
		s.log.Error("list devices", map[string]interface{}{"error": err})
		s.writeError(w, http.StatusInternalServerError, "failed to load devices")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}
	if err := s.devices.Delete(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": apperrors.NewDeviceNotFoundError(id)})
			return
		}
		s.log.Error("delete device", map[string]interface{}{"device_id": id, "error": err})
		s.writeError(w, http.StatusInternalServerError, "failed to delete device")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
