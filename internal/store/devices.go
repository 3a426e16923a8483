package store

import (
	"context"
	"database/sql"
	"fmt"

	"popup-events/internal/models"
)

const deviceColumns = `id, token, device_id, device_name, platform, apns_environment,
	os_version, app_version, device_model, locale, timezone, is_active, registered_at, last_seen`

// DeviceStore persists push notification device tokens.
type DeviceStore struct {
	db *sql.DB
}

func NewDeviceStore(db *sql.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

// Register upserts a device token. Re-registering an existing token
// refreshes its metadata, reactivates it and bumps last_seen.
func (s *DeviceStore) Register(ctx context.Context, d *models.DeviceToken) error {
	err := s.db.QueryRowContext(ctx, `INSERT INTO device_tokens
		(token, device_id, device_name, platform, apns_environment,
		 os_version, app_version, device_model, locale, timezone, is_active, registered_at, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,true,now(),now())
		ON CONFLICT (token) DO UPDATE SET
			device_id = EXCLUDED.device_id,
			device_name = EXCLUDED.device_name,
			platform = EXCLUDED.platform,
			os_version = EXCLUDED.os_version,
			app_version = EXCLUDED.app_version,
			device_model = EXCLUDED.device_model,
			locale = EXCLUDED.locale,
			timezone = EXCLUDED.timezone,
			is_active = true,
			last_seen = now()
		RETURNING id, registered_at, last_seen`,
		d.Token, d.DeviceID, d.DeviceName, d.Platform, d.APNsEnvironment,
		d.OSVersion, d.AppVersion, d.DeviceModel, d.Locale, d.Timezone,
	).Scan(&d.ID, &d.RegisteredAt, &d.LastSeen)
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

// ListActive returns active device tokens for one platform.
func (s *DeviceStore) ListActive(ctx context.Context, platform string) ([]models.DeviceToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM device_tokens
		WHERE is_active = true AND platform = $1
		ORDER BY last_seen DESC`, deviceColumns)

	rows, err := s.db.QueryContext(ctx, query, platform)
	if err != nil {
		return nil, fmt.Errorf("list active devices: %w", err)
	}
	defer rows.Close()

	return scanDevices(rows)
}

// ListAll returns every registered device (admin view).
func (s *DeviceStore) ListAll(ctx context.Context) ([]models.DeviceToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM device_tokens ORDER BY last_seen DESC`, deviceColumns)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	return scanDevices(rows)
}

// Deactivate marks a token inactive so future pushes skip it. Used when
// APNs or FCM reject the token as gone or invalid.
func (s *DeviceStore) Deactivate(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE device_tokens SET is_active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate device %d: %w", id, err)
	}
	return nil
}

// SetAPNsEnvironment records which APNs endpoint accepted the token so
// future pushes go straight there.
func (s *DeviceStore) SetAPNsEnvironment(ctx context.Context, id int64, env string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE device_tokens SET apns_environment = $2 WHERE id = $1`, id, env)
	if err != nil {
		return fmt.Errorf("set apns environment for device %d: %w", id, err)
	}
	return nil
}

// Delete removes a device registration.
func (s *DeviceStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM device_tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete device %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanDevices(rows *sql.Rows) ([]models.DeviceToken, error) {
	var out []models.DeviceToken
	for rows.Next() {
		var d models.DeviceToken
		var deviceID, deviceName, env, osVersion, appVersion, deviceModel, locale, tz sql.NullString
		err := rows.Scan(
			&d.ID, &d.Token, &deviceID, &deviceName, &d.Platform, &env,
			&osVersion, &appVersion, &deviceModel, &locale, &tz,
			&d.IsActive, &d.RegisteredAt, &d.LastSeen,
		)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		d.DeviceID = deviceID.String
		d.DeviceName = deviceName.String
		d.APNsEnvironment = env.String
		d.OSVersion = osVersion.String
		d.AppVersion = appVersion.String
		d.DeviceModel = deviceModel.String
		d.Locale = locale.String
		d.Timezone = tz.String
		out = append(out, d)
	}
	return out, rows.Err()
}
