// Package push delivers notifications to registered mobile devices over
// APNs (iOS) and FCM (Android).
package push

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"popup-events/internal/common/config"
	commonhttp "popup-events/internal/common/http"
	"popup-events/internal/common/logger"
	"popup-events/internal/common/metrics"
	"popup-events/internal/models"
)

const (
	apnsProductionHost = "https://api.push.apple.com"
	apnsSandboxHost    = "https://api.sandbox.push.apple.com"

	// APNs provider tokens are valid for an hour; refresh comfortably early.
	apnsTokenLifetime = 50 * time.Minute
)

// DeviceRegistry is the slice of the device store the transports need
// for token hygiene.
type DeviceRegistry interface {
	ListActive(ctx context.Context, platform string) ([]models.DeviceToken, error)
	Deactivate(ctx context.Context, id int64) error
	SetAPNsEnvironment(ctx context.Context, id int64, env string) error
}

// APNsClient sends alerts to iOS devices via the APNs HTTP/2 API,
// authenticating with a cached ES256 provider token.
type APNsClient struct {
	cfg        config.APNsConfig
	key        *ecdsa.PrivateKey
	httpClient *commonhttp.Client
	registry   DeviceRegistry
	log        logger.Logger

	mu          sync.Mutex
	bearerToken string
	issuedAt    time.Time
}

func NewAPNsClient(cfg config.APNsConfig, registry DeviceRegistry, log logger.Logger) (*APNsClient, error) {
	pem, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read APNs key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse APNs key: %w", err)
	}

	return &APNsClient{
		cfg:        cfg,
		key:        key,
		httpClient: commonhttp.NewClient(time.Duration(cfg.Timeout) * time.Millisecond),
		registry:   registry,
		log:        log.WithFields(map[string]interface{}{"transport": "apns"}),
	}, nil
}

type apnsPayload struct {
	APS apnsAPS `json:"aps"`
}

type apnsAPS struct {
	Alert            apnsAlert `json:"alert"`
	Sound            string    `json:"sound"`
	Badge            int       `json:"badge"`
	ContentAvailable int       `json:"content-available"`
	MutableContent   int       `json:"mutable-content"`
}

type apnsAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Push sends the alert to each device and returns how many deliveries
// APNs accepted. Rejected tokens are deactivated; a device registered
// against the wrong environment is retried against the other endpoint
// and migrated on success.
func (c *APNsClient) Push(ctx context.Context, devices []models.DeviceToken, title, body string) int {
	payload, err := json.Marshal(apnsPayload{
		APS: apnsAPS{
			Alert:            apnsAlert{Title: title, Body: body},
			Sound:            "default",
			Badge:            1,
			ContentAvailable: 1,
			MutableContent:   1,
		},
	})
	if err != nil {
		c.log.Error("marshal payload", map[string]interface{}{"error": err})
		return 0
	}

	bearer, err := c.providerToken()
	if err != nil {
		c.log.Error("provider token", map[string]interface{}{"error": err})
		return 0
	}

	sent := 0
	for i := range devices {
		if c.pushOne(ctx, &devices[i], bearer, payload) {
			sent++
			metrics.PushDeliveries.WithLabelValues(models.PlatformIOS, "sent").Inc()
		} else {
			metrics.PushDeliveries.WithLabelValues(models.PlatformIOS, "failed").Inc()
		}
	}
	return sent
}

func (c *APNsClient) pushOne(ctx context.Context, device *models.DeviceToken, bearer string, payload []byte) bool {
	env := device.APNsEnvironment
	if env == "" {
		env = models.APNsProduction
	}

	status, respBody, err := c.post(ctx, hostFor(env), device.Token, bearer, payload)
	if err != nil {
		c.log.Error("push failed", map[string]interface{}{
			"error": err,
			"token": truncateToken(device.Token),
		})
		return false
	}
	if status == http.StatusOK {
		return true
	}

	// A debug build registers against sandbox, a release build against
	// production; try the other endpoint before giving up on the token.
	if status == http.StatusBadRequest && strings.Contains(respBody, "BadDeviceToken") {
		altEnv := models.APNsSandbox
		if env == models.APNsSandbox {
			altEnv = models.APNsProduction
		}
		altStatus, altBody, altErr := c.post(ctx, hostFor(altEnv), device.Token, bearer, payload)
		if altErr == nil && altStatus == http.StatusOK {
			if err := c.registry.SetAPNsEnvironment(ctx, device.ID, altEnv); err != nil {
				c.log.Warn("record environment", map[string]interface{}{"error": err, "deviceId": device.ID})
			}
			return true
		}
		status, respBody = altStatus, altBody
	}

	c.log.Warn("push rejected", map[string]interface{}{
		"status": status,
		"body":   respBody,
		"token":  truncateToken(device.Token),
	})
	if status == http.StatusBadRequest || status == http.StatusGone {
		if err := c.registry.Deactivate(ctx, device.ID); err != nil {
			c.log.Warn("deactivate device", map[string]interface{}{"error": err, "deviceId": device.ID})
		}
	}
	return false
}

func (c *APNsClient) post(ctx context.Context, host, token, bearer string, payload []byte) (int, string, error) {
	url := fmt.Sprintf("%s/3/device/%s", host, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("authorization", "bearer "+bearer)
	req.Header.Set("apns-topic", c.cfg.BundleID)
	req.Header.Set("apns-push-type", "alert")
	req.Header.Set("apns-priority", "10")
	req.Header.Set("apns-expiration", "0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(respBody), nil
}

// providerToken returns the cached ES256 bearer token, minting a fresh
// one when the cached token nears its one-hour expiry.
func (c *APNsClient) providerToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearerToken != "" && time.Since(c.issuedAt) < apnsTokenLifetime {
		return c.bearerToken, nil
	}

	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": c.cfg.TeamID,
		"iat": now.Unix(),
	})
	tok.Header["kid"] = c.cfg.KeyID

	signed, err := tok.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign provider token: %w", err)
	}

	c.bearerToken = signed
	c.issuedAt = now
	return signed, nil
}

func hostFor(env string) string {
	if env == models.APNsSandbox {
		return apnsSandboxHost
	}
	return apnsProductionHost
}

// ValidAPNsToken reports whether the token is a plausible APNs device
// token: exactly 64 lowercase-insensitive hex characters.
func ValidAPNsToken(token string) bool {
	if len(token) != 64 {
		return false
	}
	for _, r := range strings.ToLower(token) {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func truncateToken(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12] + "..."
}
