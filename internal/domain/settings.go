package domain

import "time"

// Settings are the cross-call values an administrator can change at runtime
type Settings struct {
	Greeting       string    `json:"greeting"`
	InboundEnabled bool      `json:"inbound_enabled"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SupervisorDevice is a push target notified when a call ends
type SupervisorDevice struct {
	Token     string    `json:"token" binding:"required"`
	Platform  string    `json:"platform" binding:"required,oneof=ios android web"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
