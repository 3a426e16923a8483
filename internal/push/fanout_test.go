// internal/push/fanout_test.go
package push

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popup-events/internal/common/logger"
	"popup-events/internal/models"
)

type fakeRegistry struct {
	devices map[string][]models.DeviceToken
	err     error
}

func (f *fakeRegistry) ListActive(ctx context.Context, platform string) ([]models.DeviceToken, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.devices[platform], nil
}

func (f *fakeRegistry) Deactivate(ctx context.Context, id int64) error { return nil }

func (f *fakeRegistry) SetAPNsEnvironment(ctx context.Context, id int64, env string) error {
	return nil
}

type fakeTransport struct {
	pushed []models.DeviceToken
}

func (f *fakeTransport) Push(ctx context.Context, devices []models.DeviceToken, title, body string) int {
	f.pushed = append(f.pushed, devices...)
	return len(devices)
}

func hexToken(seed string) string {
	return strings.Repeat(seed, 64/len(seed))
}

func TestFanout_RoutesByPlatform(t *testing.T) {
	registry := &fakeRegistry{devices: map[string][]models.DeviceToken{
		models.PlatformIOS: {
			{ID: 1, DeviceID: "ios-1", Token: hexToken("ab"), Platform: models.PlatformIOS},
		},
		models.PlatformAndroid: {
			{ID: 2, DeviceID: "and-1", Token: "fcm-token-1", Platform: models.PlatformAndroid},
		},
	}}
	apns := &fakeTransport{}
	fcm := &fakeTransport{}

	fanout := NewFanout(registry, apns, fcm, logger.NewNoOpLogger())

	n, err := fanout.Send(context.Background(), "Today: Market", "Join us!")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, apns.pushed, 1)
	assert.Equal(t, "ios-1", apns.pushed[0].DeviceID)
	require.Len(t, fcm.pushed, 1)
	assert.Equal(t, "and-1", fcm.pushed[0].DeviceID)
}

func TestFanout_SkipsUnconfiguredTransports(t *testing.T) {
	registry := &fakeRegistry{devices: map[string][]models.DeviceToken{
		models.PlatformIOS: {{ID: 1, Token: hexToken("ab")}},
	}}

	fanout := NewFanout(registry, nil, nil, logger.NewNoOpLogger())

	n, err := fanout.Send(context.Background(), "t", "b")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFanout_FiltersMalformedAPNsTokens(t *testing.T) {
	registry := &fakeRegistry{devices: map[string][]models.DeviceToken{
		models.PlatformIOS: {
			{ID: 1, DeviceID: "good", Token: hexToken("ab")},
			{ID: 2, DeviceID: "short", Token: "abc123"},
			{ID: 3, DeviceID: "nonhex", Token: strings.Repeat("zz", 32)},
		},
	}}
	apns := &fakeTransport{}

	fanout := NewFanout(registry, apns, nil, logger.NewNoOpLogger())

	n, err := fanout.Send(context.Background(), "t", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, apns.pushed, 1)
	assert.Equal(t, "good", apns.pushed[0].DeviceID)
}

func TestFanout_RegistryErrorSurfaces(t *testing.T) {
	registry := &fakeRegistry{err: errors.New("db down")}
	fanout := NewFanout(registry, &fakeTransport{}, nil, logger.NewNoOpLogger())

	_, err := fanout.Send(context.Background(), "t", "b")
	assert.Error(t, err)
}

func TestDedupeDevices(t *testing.T) {
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.AddDate(0, 1, 0)

	devices := []models.DeviceToken{
		{ID: 1, DeviceID: "phone-a", Token: "tok-stale", LastSeen: older},
		{ID: 2, DeviceID: "phone-a", Token: "tok-fresh", LastSeen: newer},
		{ID: 3, DeviceID: "phone-b", Token: "tok-other", LastSeen: older},
		// No device id: the token itself is the identity.
		{ID: 4, Token: "tok-anon", LastSeen: older},
	}

	out := DedupeDevices(devices)

	require.Len(t, out, 3)
	tokens := make(map[string]bool, len(out))
	for _, d := range out {
		tokens[d.Token] = true
	}
	assert.True(t, tokens["tok-fresh"], "latest registration wins")
	assert.False(t, tokens["tok-stale"])
	assert.True(t, tokens["tok-other"])
	assert.True(t, tokens["tok-anon"])
}

func TestValidAPNsToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{name: "valid lowercase hex", token: strings.Repeat("a1", 32), want: true},
		{name: "valid uppercase hex", token: strings.Repeat("A1", 32), want: true},
		{name: "too short", token: "a1b2c3", want: false},
		{name: "too long", token: strings.Repeat("a1", 33), want: false},
		{name: "non-hex characters", token: strings.Repeat("g1", 32), want: false},
		{name: "empty", token: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidAPNsToken(tt.token))
		})
	}
}
