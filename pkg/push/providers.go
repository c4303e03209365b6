package push

import (
	"context"

	"go.uber.org/zap"

	"vocalq-backend/pkg/config"
)

// NewProviders builds the providers selected by cfg.Provider ("fcm", "apns",
// "both" or "mock"). A provider that fails to initialize is logged and left out.
func NewProviders(ctx context.Context, cfg config.PushConfig, log *zap.Logger) map[string]Provider {
	providers := make(map[string]Provider)

	switch cfg.Provider {
	case "", "mock":
		mock := NewMockProvider(log)
		providers["fcm"] = mock
		providers["apns"] = mock
		log.Info("Using mock push notification provider")
		return providers
	}

	if cfg.Provider == "fcm" || cfg.Provider == "both" {
		fcm, err := NewFCMProvider(ctx, &FCMConfig{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsPath: cfg.FirebaseCredentials,
		}, log)
		if err != nil {
			log.Error("FCM provider unavailable", zap.Error(err))
		} else {
			providers["fcm"] = fcm
		}
	}

	if cfg.Provider == "apns" || cfg.Provider == "both" {
		apns, err := NewAPNsProvider(&APNsConfig{
			KeyPath:    cfg.APNsKeyPath,
			KeyID:      cfg.APNsKeyID,
			TeamID:     cfg.APNsTeamID,
			Topic:      cfg.APNsTopic,
			Production: cfg.APNsProduction,
		}, log)
		if err != nil {
			log.Error("APNs provider unavailable", zap.Error(err))
		} else {
			providers["apns"] = apns
		}
	}
	return providers
}
