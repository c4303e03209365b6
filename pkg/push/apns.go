package push

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"go.uber.org/zap"
)

// APNsProvider sends through Apple Push Notification Service using token auth
type APNsProvider struct {
	client *apns2.Client
	topic  string
	log    *zap.Logger
}

// APNsConfig contains configuration for APNs provider
type APNsConfig struct {
	KeyPath    string // .p8 private key
	KeyID      string
	TeamID     string
	Topic      string // bundle id of the supervisor app
	Production bool
}

// NewAPNsProvider creates a new APNs provider
func NewAPNsProvider(config *APNsConfig, log *zap.Logger) (*APNsProvider, error) {
	if config == nil || config.Topic == "" {
		return nil, fmt.Errorf("APNs topic is required")
	}
	if config.KeyPath == "" || config.KeyID == "" || config.TeamID == "" {
		return nil, fmt.Errorf("APNs key path, key id and team id are required")
	}

	authKey, err := token.AuthKeyFromFile(config.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}
	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   config.KeyID,
		TeamID:  config.TeamID,
	})
	if config.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	log.Info("APNs provider initialized",
		zap.String("topic", config.Topic),
		zap.Bool("production", config.Production))
	return &APNsProvider{client: client, topic: config.Topic, log: log}, nil
}

// Send implements Provider
func (a *APNsProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	result := &SendResult{}
	for _, deviceToken := range tokens {
		n := &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       a.topic,
			Payload:     buildPayload(notification),
			Priority:    apns2.PriorityLow,
		}
		if notification.Priority == "high" {
			n.Priority = apns2.PriorityHigh
		}

		resp, err := a.client.PushWithContext(ctx, n)
		if err != nil {
			result.FailureCount++
			result.Errors = append(result.Errors, err)
			continue
		}
		if resp.Sent() {
			result.SuccessCount++
			continue
		}

		result.FailureCount++
		result.Errors = append(result.Errors, fmt.Errorf("APNs error: %s", resp.Reason))
		if resp.StatusCode == http.StatusGone ||
			resp.Reason == apns2.ReasonUnregistered ||
			resp.Reason == apns2.ReasonBadDeviceToken ||
			resp.Reason == apns2.ReasonDeviceTokenNotForTopic {
			result.InvalidTokens = append(result.InvalidTokens, deviceToken)
		}
		a.log.Warn("APNs notification failed",
			zap.Int("status_code", resp.StatusCode),
			zap.String("reason", resp.Reason),
			zap.String("token_prefix", maskPushToken(deviceToken)))
	}
	return result, nil
}

func buildPayload(notification *Notification) *payload.Payload {
	p := payload.NewPayload().
		AlertTitle(notification.Title).
		AlertBody(notification.Body)
	if notification.Sound != "" {
		p.Sound(notification.Sound)
	}
	if notification.Category != "" {
		p.Category(notification.Category)
	}
	for key, value := range notification.Data {
		p.Custom(key, value)
	}
	return p
}
