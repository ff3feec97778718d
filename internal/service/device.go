package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/Rrens/lean-coffee/internal/events"
	"github.com/Rrens/lean-coffee/internal/push"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DeviceService registers push tokens and subscribes them to session
// topics
type DeviceService struct {
	devices      domain.DeviceTokenRepository
	participants domain.ParticipantRepository
	sender       push.Sender
	topicPrefix  string
	boards       events.BoardInvalidator
	now          Clock
}

// DeviceOption configures a DeviceService
type DeviceOption func(*DeviceService)

// WithBoardInvalidator drops the cached board after a participant's push
// subscription changes
func WithBoardInvalidator(boards events.BoardInvalidator) DeviceOption {
	return func(s *DeviceService) { s.boards = boards }
}

// NewDeviceService creates a new device service
func NewDeviceService(devices domain.DeviceTokenRepository, participants domain.ParticipantRepository, sender push.Sender, topicPrefix string, now Clock, opts ...DeviceOption) *DeviceService {
	if now == nil {
		now = utcNow
	}
	s := &DeviceService{
		devices:      devices,
		participants: participants,
		sender:       sender,
		topicPrefix:  topicPrefix,
		now:          now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register stores the token or reactivates it
func (s *DeviceService) Register(ctx context.Context, userID uuid.UUID, input domain.DeviceRegister) (*domain.DeviceToken, error) {
	token := strings.TrimSpace(input.Token)
	if token == "" {
		return nil, domain.NewValidationError("token", "is required")
	}

	now := s.now()
	device := &domain.DeviceToken{
		ID:       uuid.New(),
		UserID:   userID,
		Token:    token,
		Platform: input.Platform,
		IsActive: true,
	}
	device.Created(userID, now)

	if err := s.devices.Upsert(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}
	return device, nil
}

// Deactivate stops pushes to the token
func (s *DeviceService) Deactivate(ctx context.Context, userID uuid.UUID, token string) error {
	if err := s.devices.Deactivate(ctx, userID, token); err != nil {
		return lookupError(err, domain.CodeDeviceNotFound, "device token for user", userID)
	}
	return nil
}

// SubscribeToSessionPush subscribes all active tokens of a participant to
// the session's push topic
func (s *DeviceService) SubscribeToSessionPush(ctx context.Context, sessionID, userID uuid.UUID) error {
	return s.setSubscription(ctx, sessionID, userID, true)
}

// UnsubscribeFromSessionPush is the reverse of SubscribeToSessionPush
func (s *DeviceService) UnsubscribeFromSessionPush(ctx context.Context, sessionID, userID uuid.UUID) error {
	return s.setSubscription(ctx, sessionID, userID, false)
}

func (s *DeviceService) setSubscription(ctx context.Context, sessionID, userID uuid.UUID, subscribe bool) error {
	if err := requireIDs(map[string]uuid.UUID{"sessionId": sessionID, "userId": userID}); err != nil {
		return err
	}

	participant, err := s.participants.Get(ctx, sessionID, userID)
	if err != nil {
		return lookupError(err, domain.CodeParticipantNotFound, "participant", userID)
	}

	devices, err := s.devices.ListActiveByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	tokens := make([]string, 0, len(devices))
	for _, d := range devices {
		tokens = append(tokens, d.Token)
	}

	topic := push.Topic(s.topicPrefix, sessionID)
	if subscribe {
		err = s.sender.SubscribeToTopic(ctx, tokens, topic)
	} else {
		err = s.sender.UnsubscribeFromTopic(ctx, tokens, topic)
	}
	if err != nil {
		return fmt.Errorf("failed to update push subscription: %w", err)
	}

	participant.IsPushSubscribed = subscribe
	participant.Touch(userID, s.now())
	if err := s.participants.Update(ctx, participant); err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}
	if s.boards != nil {
		if err := s.boards.Invalidate(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to invalidate board cache")
		}
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Str("user_id", userID.String()).
		Int("tokens", len(tokens)).
		Bool("subscribed", subscribe).
		Msg("Push subscription updated")
	return nil
}
