// internal/store/devices_test.go
package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popup-events/internal/models"
)

var deviceCols = []string{
	"id", "token", "device_id", "device_name", "platform", "apns_environment",
	"os_version", "app_version", "device_model", "locale", "timezone",
	"is_active", "registered_at", "last_seen",
}

func newDeviceStore(t *testing.T) (*DeviceStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDeviceStore(db), mock
}

func TestDeviceStore_Register(t *testing.T) {
	store, mock := newDeviceStore(t)

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO device_tokens`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "registered_at", "last_seen"}).AddRow(int64(3), now, now))

	d := &models.DeviceToken{
		Token:           "abc123",
		DeviceID:        "device-1",
		Platform:        models.PlatformIOS,
		APNsEnvironment: models.APNsProduction,
	}
	require.NoError(t, store.Register(context.Background(), d))
	assert.Equal(t, int64(3), d.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceStore_ListActive(t *testing.T) {
	store, mock := newDeviceStore(t)

	now := time.Now()
	rows := sqlmock.NewRows(deviceCols).
		AddRow(int64(1), "tok-a", "dev-a", "Alice's phone", "ios", "production",
			"18.0", "1.2.0", "iPhone16,1", "en_US", "America/New_York", true, now, now)

	mock.ExpectQuery(`SELECT (.+) FROM device_tokens\s+WHERE is_active = true AND platform = \$1`).
		WithArgs("ios").
		WillReturnRows(rows)

	devices, err := store.ListActive(context.Background(), models.PlatformIOS)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "tok-a", devices[0].Token)
	assert.Equal(t, "production", devices[0].APNsEnvironment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceStore_Deactivate(t *testing.T) {
	store, mock := newDeviceStore(t)

	mock.ExpectExec(`UPDATE device_tokens SET is_active = false WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Deactivate(context.Background(), 5))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceStore_SetAPNsEnvironment(t *testing.T) {
	store, mock := newDeviceStore(t)

	mock.ExpectExec(`UPDATE device_tokens SET apns_environment = \$2 WHERE id = \$1`).
		WithArgs(int64(5), models.APNsSandbox).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SetAPNsEnvironment(context.Background(), 5, models.APNsSandbox))
	require.NoError(t, mock.ExpectationsWereMet())
}
