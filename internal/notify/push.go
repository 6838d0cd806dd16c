// Package notify pushes stored notifications to user devices.
package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"barterpool-backend/internal/domain"
)

// messenger is the part of the FCM client the sender needs.
type messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMSender publishes each notification to the recipient's topic. Devices
// subscribe to TopicPrefix+userID when the user signs in.
type FCMSender struct {
	client      messenger
	topicPrefix string
}

// NewFCMSender builds a sender from a service account credentials file.
func NewFCMSender(ctx context.Context, credentialsFile, topicPrefix string) (*FCMSender, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase messaging: %w", err)
	}
	return &FCMSender{client: client, topicPrefix: topicPrefix}, nil
}

func (s *FCMSender) Send(ctx context.Context, note *domain.Notification) error {
	_, err := s.client.Send(ctx, buildMessage(note, s.topicPrefix))
	if err != nil {
		return fmt.Errorf("push notification %s: %w", note.ID, err)
	}
	return nil
}

func buildMessage(note *domain.Notification, topicPrefix string) *messaging.Message {
	data := map[string]string{
		"notification_id": note.ID,
		"pool_id":         note.PoolID,
		"type":            string(note.Type),
	}
	for k, v := range note.Attributes {
		if _, taken := data[k]; !taken {
			data[k] = v
		}
	}
	return &messaging.Message{
		Topic: topicPrefix + note.UserID,
		Notification: &messaging.Notification{
			Title: note.Title,
			Body:  note.Message,
		},
		Data: data,
	}
}
