// internal/models/device.go
package models

import "time"

// Platforms for registered devices.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

// APNs environments. A device can migrate between them when a push to one
// endpoint is rejected with BadDeviceToken.
const (
	APNsProduction = "production"
	APNsSandbox    = "sandbox"
)

// DeviceToken is a registered push notification recipient.
type DeviceToken struct {
	ID              int64     `json:"id"`
	Token           string    `json:"token"`
	DeviceID        string    `json:"device_id"`
	DeviceName      string    `json:"device_name,omitempty"`
	Platform        string    `json:"platform"`
	APNsEnvironment string    `json:"apns_environment,omitempty"`
	OSVersion       string    `json:"os_version,omitempty"`
	AppVersion      string    `json:"app_version,omitempty"`
	DeviceModel     string    `json:"device_model,omitempty"`
	Locale          string    `json:"locale,omitempty"`
	Timezone        string    `json:"timezone,omitempty"`
	IsActive        bool      `json:"is_active"`
	RegisteredAt    time.Time `json:"registered_at"`
	LastSeen        time.Time `json:"last_seen"`
}
