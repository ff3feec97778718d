package domain

import (
	"context"

	"github.com/google/uuid"
)

// DeviceToken is a push registration for one of a user's devices
type DeviceToken struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	Token    string    `json:"token"`
	Platform string    `json:"platform"`
	IsActive bool      `json:"is_active"`
	Audit
}

// DeviceRegister represents device registration data
type DeviceRegister struct {
	Token    string `json:"token" validate:"required,max=4096"`
	Platform string `json:"platform" validate:"required,oneof=android ios web"`
}

// DeviceTokenRepository defines the interface for device token storage
type DeviceTokenRepository interface {
	// Upsert registers the token for the user, reactivating it if it exists.
	Upsert(ctx context.Context, device *DeviceToken) error
	Deactivate(ctx context.Context, userID uuid.UUID, token string) error
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]DeviceToken, error)
}
