package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"popup-events/internal/common/config"
	"popup-events/internal/common/logger"
	"popup-events/internal/common/metrics"
	"popup-events/internal/models"
)

const fcmScope = "https://www.googleapis.com/auth/firebase.messaging"

// FCMClient sends notifications to Android devices through the FCM HTTP
// v1 API, authenticating with service-account credentials. Token refresh
// and caching are handled by the oauth2 transport.
type FCMClient struct {
	projectID  string
	httpClient *http.Client
	registry   DeviceRegistry
	log        logger.Logger
}

func NewFCMClient(ctx context.Context, cfg config.FCMConfig, registry DeviceRegistry, log logger.Logger) (*FCMClient, error) {
	keyJSON, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read FCM credentials: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, keyJSON, fcmScope)
	if err != nil {
		return nil, fmt.Errorf("parse FCM credentials: %w", err)
	}

	projectID := cfg.ProjectID
	if projectID == "" {
		projectID = creds.ProjectID
	}
	if projectID == "" {
		return nil, fmt.Errorf("FCM project ID not found in config or credentials")
	}

	// oauth2.NewClient returns a client whose transport injects and
	// refreshes the service-account bearer token.
	httpClient := oauth2.NewClient(ctx, creds.TokenSource)
	httpClient.Timeout = time.Duration(cfg.Timeout) * time.Millisecond

	return &FCMClient{
		projectID:  projectID,
		httpClient: httpClient,
		registry:   registry,
		log:        log.WithFields(map[string]interface{}{"transport": "fcm"}),
	}, nil
}

type fcmMessage struct {
	Message fcmMessageBody `json:"message"`
}

type fcmMessageBody struct {
	Token        string          `json:"token"`
	Notification fcmNotification `json:"notification"`
	Android      fcmAndroid      `json:"android"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmAndroid struct {
	Priority     string             `json:"priority"`
	Notification fcmAndroidSettings `json:"notification"`
}

type fcmAndroidSettings struct {
	Sound     string `json:"sound"`
	ChannelID string `json:"channel_id"`
}

// Push sends the notification to each device and returns how many FCM
// accepted. Tokens FCM reports as unregistered or invalid are deactivated.
func (c *FCMClient) Push(ctx context.Context, devices []models.DeviceToken, title, body string) int {
	url := fmt.Sprintf("https://fcm.googleapis.com/v1/projects/%s/messages:send", c.projectID)

	sent := 0
	for i := range devices {
		if c.pushOne(ctx, url, &devices[i], title, body) {
			sent++
			metrics.PushDeliveries.WithLabelValues(models.PlatformAndroid, "sent").Inc()
		} else {
			metrics.PushDeliveries.WithLabelValues(models.PlatformAndroid, "failed").Inc()
		}
	}
	return sent
}

func (c *FCMClient) pushOne(ctx context.Context, url string, device *models.DeviceToken, title, body string) bool {
	payload, err := json.Marshal(fcmMessage{
		Message: fcmMessageBody{
			Token:        device.Token,
			Notification: fcmNotification{Title: title, Body: body},
			Android: fcmAndroid{
				Priority:     "high",
				Notification: fcmAndroidSettings{Sound: "default", ChannelID: "general"},
			},
		},
	})
	if err != nil {
		c.log.Error("marshal message", map[string]interface{}{"error": err})
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		c.log.Error("build request", map[string]interface{}{"error": err})
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("push failed", map[string]interface{}{
			"error": err,
			"token": truncateToken(device.Token),
		})
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	c.log.Warn("push rejected", map[string]interface{}{
		"status": resp.StatusCode,
		"body":   string(respBody),
		"token":  truncateToken(device.Token),
	})

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
		if strings.Contains(string(respBody), "UNREGISTERED") || strings.Contains(string(respBody), "INVALID_ARGUMENT") {
			if err := c.registry.Deactivate(ctx, device.ID); err != nil {
				c.log.Warn("deactivate device", map[string]interface{}{"error": err, "deviceId": device.ID})
			}
		}
	}
	return false
}
