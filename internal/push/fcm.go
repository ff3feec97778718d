package push

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// messagingClient is the subset of *messaging.Client the sender uses
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
	UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
}

// FCMSender delivers data-only messages through Firebase Cloud Messaging
type FCMSender struct {
	client messagingClient
}

// NewFCMSender creates a sender from a service account credentials file.
// An empty path falls back to application default credentials.
func NewFCMSender(ctx context.Context, projectID, credentialsFile string) (*FCMSender, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize messaging client: %w", err)
	}

	log.Info().Str("project_id", projectID).Msg("FCM sender initialized")
	return &FCMSender{client: client}, nil
}

func (s *FCMSender) SendToTopic(ctx context.Context, topic string, data map[string]string) error {
	msg := &messaging.Message{
		Topic: topic,
		Data:  data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "5"},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{ContentAvailable: true},
			},
		},
	}

	id, err := s.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send push message: %w", err)
	}

	log.Debug().Str("topic", topic).Str("message_id", id).Msg("push message sent")
	return nil
}

func (s *FCMSender) SubscribeToTopic(ctx context.Context, tokens []string, topic string) error {
	if len(tokens) == 0 {
		return nil
	}
	resp, err := s.client.SubscribeToTopic(ctx, tokens, topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe tokens to topic: %w", err)
	}
	return topicResponseError(resp)
}

func (s *FCMSender) UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) error {
	if len(tokens) == 0 {
		return nil
	}
	resp, err := s.client.UnsubscribeFromTopic(ctx, tokens, topic)
	if err != nil {
		return fmt.Errorf("failed to unsubscribe tokens from topic: %w", err)
	}
	return topicResponseError(resp)
}

// topicResponseError fails only when no token succeeded; partial failures
// are logged.
func topicResponseError(resp *messaging.TopicManagementResponse) error {
	if resp == nil || resp.FailureCount == 0 {
		return nil
	}
	for _, e := range resp.Errors {
		log.Warn().Int("index", e.Index).Str("reason", e.Reason).Msg("push topic management failed for token")
	}
	if resp.SuccessCount == 0 {
		return errors.New("push topic management failed for all tokens")
	}
	return nil
}
