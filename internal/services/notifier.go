package services

import (
	"context"
	"fmt"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// PushNotification is the alert shown for a new message
type PushNotification struct {
	Title          string
	Subtitle       string
	Body           string
	ConversationID string
}

// Notifier delivers push notifications to a device
type Notifier interface {
	Notify(ctx context.Context, deviceToken string, n PushNotification) error
}

// APNSNotifier sends notifications through Apple Push Notification service
type APNSNotifier struct {
	client *apns2.Client
	topic  string
}

// NewAPNSNotifier creates a token based APNs client from a .p8 key file
func NewAPNSNotifier(keyPath, keyID, teamID, topic string, production bool) (*APNSNotifier, error) {
	authKey, err := token.AuthKeyFromFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   keyID,
		TeamID:  teamID,
	})
	if production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &APNSNotifier{client: client, topic: topic}, nil
}

func (n *APNSNotifier) Notify(ctx context.Context, deviceToken string, push PushNotification) error {
	p := payload.NewPayload().
		AlertTitle(push.Title).
		AlertBody(push.Body).
		Sound("default").
		ThreadID(push.ConversationID).
		Custom("conversation_id", push.ConversationID)
	if push.Subtitle != "" {
		p = p.AlertSubtitle(push.Subtitle)
	}

	res, err := n.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       n.topic,
		Payload:     p,
	})
	if err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("push rejected: %d %s", res.StatusCode, res.Reason)
	}
	return nil
}
