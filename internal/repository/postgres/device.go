package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Rrens/lean-coffee/internal/domain"
)

// DeviceTokenRepository implements domain.DeviceTokenRepository
type DeviceTokenRepository struct {
	db DBTX
}

// NewDeviceTokenRepository creates a new device token repository
func NewDeviceTokenRepository(db DBTX) *DeviceTokenRepository {
	return &DeviceTokenRepository{db: db}
}

// Upsert inserts the token or reactivates an existing (user, token) row.
// device.ID and the creation stamps are refreshed from the stored row.
func (r *DeviceTokenRepository) Upsert(ctx context.Context, device *domain.DeviceToken) error {
	query := `
		INSERT INTO device_tokens (id, user_id, token, platform, is_active, created_at, created_by)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6)
		ON CONFLICT (user_id, token) DO UPDATE
		SET platform = EXCLUDED.platform, is_active = TRUE,
			updated_at = EXCLUDED.created_at, updated_by = EXCLUDED.created_by
		RETURNING id, created_at, created_by
	`
	err := r.db.QueryRow(ctx, query,
		device.ID,
		device.UserID,
		device.Token,
		device.Platform,
		device.CreatedAt,
		device.CreatedBy,
	).Scan(&device.ID, &device.CreatedAt, &device.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to upsert device token: %w", mapError(err, "device", device.UserID))
	}
	device.IsActive = true
	return nil
}

func (r *DeviceTokenRepository) Deactivate(ctx context.Context, userID uuid.UUID, token string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE device_tokens
		SET is_active = FALSE, updated_at = NOW(), updated_by = $1
		WHERE user_id = $1 AND token = $2 AND NOT is_deleted
	`, userID, token)
	if err != nil {
		return fmt.Errorf("failed to deactivate device token: %w", mapError(err, "device", userID))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to deactivate device token: %w", mapError(pgx.ErrNoRows, "device", userID))
	}
	return nil
}

func (r *DeviceTokenRepository) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]domain.DeviceToken, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, token, platform, is_active, `+auditColumns+`
		FROM device_tokens
		WHERE user_id = $1 AND is_active AND NOT is_deleted
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	defer rows.Close()

	devices := []domain.DeviceToken{}
	for rows.Next() {
		var d domain.DeviceToken
		dest := append([]any{&d.ID, &d.UserID, &d.Token, &d.Platform, &d.IsActive}, auditDest(&d.Audit)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
