package push

import (
	"context"

	apperrors "popup-events/internal/common/errors"
	"popup-events/internal/common/logger"
	"popup-events/internal/models"
)

// Transport sends one notification to a batch of same-platform devices
// and reports how many deliveries the provider accepted.
type Transport interface {
	Push(ctx context.Context, devices []models.DeviceToken, title, body string) int
}

// Fanout delivers one (title, body) notification to every registered
// recipient across all configured transports. It satisfies the
// scheduler's NotificationSink contract: fire-and-forget, with the total
// delivery count reported back for observability only.
type Fanout struct {
	registry DeviceRegistry
	apns     Transport // nil when APNs is not configured
	fcm      Transport // nil when FCM is not configured
	log      logger.Logger
}

func NewFanout(registry DeviceRegistry, apns, fcm Transport, log logger.Logger) *Fanout {
	return &Fanout{
		registry: registry,
		apns:     apns,
		fcm:      fcm,
		log:      log.WithFields(map[string]interface{}{"component": "push"}),
	}
}

// Send pushes to both platforms and returns the total number of accepted
// deliveries. A registry read error is returned; per-device provider
// rejections are not (they are logged and the count just comes up short).
func (f *Fanout) Send(ctx context.Context, title, body string) (int, error) {
	total := 0

	if f.apns != nil {
		devices, err := f.registry.ListActive(ctx, models.PlatformIOS)
		if err != nil {
			return total, apperrors.NewPushSendFailedError("apns", err)
		}
		valid := make([]models.DeviceToken, 0, len(devices))
		for _, d := range devices {
			if ValidAPNsToken(d.Token) {
				valid = append(valid, d)
			}
		}
		total += f.apns.Push(ctx, DedupeDevices(valid), title, body)
	}

	if f.fcm != nil {
		devices, err := f.registry.ListActive(ctx, models.PlatformAndroid)
		if err != nil {
			return total, apperrors.NewPushSendFailedError("fcm", err)
		}
		total += f.fcm.Push(ctx, DedupeDevices(devices), title, body)
	}

	f.log.Info("push fanout complete", map[string]interface{}{
		"title":     title,
		"delivered": total,
	})
	return total, nil
}

// DedupeDevices keeps one record per physical device, preferring the
// most recently seen registration. A device that reinstalled the app can
// leave several stale tokens behind; pushing to all of them shows the
// user duplicate alerts.
func DedupeDevices(devices []models.DeviceToken) []models.DeviceToken {
	seen := make(map[string]models.DeviceToken, len(devices))
	for _, d := range devices {
		key := d.DeviceID
		if key == "" {
			key = d.Token
		}
		if prev, ok := seen[key]; !ok || d.LastSeen.After(prev.LastSeen) {
			seen[key] = d
		}
	}

	out := make([]models.DeviceToken, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	return out
}
