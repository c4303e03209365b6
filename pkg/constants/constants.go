// Package constants defines application-wide constants for timeouts, limits, and audio timing.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteWait bounds a single websocket write
	WebSocketWriteWait = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Call session constants
const (
	// StreamStartTimeout is how long a session waits for the provider stream id
	StreamStartTimeout = 5 * time.Second

	// GreetingGracePeriod suppresses barge-in right after the greeting starts
	GreetingGracePeriod = 1500 * time.Millisecond

	// RelaySessionReadyTimeout bounds the wait for session.updated from the relay upstream
	RelaySessionReadyTimeout = 1500 * time.Millisecond

	// FinalizeTimeout bounds final persistence once a call has ended
	FinalizeTimeout = 15 * time.Second

	// PersistWriteTimeout bounds one call record write attempt. Three tiers
	// plus the summary insert fit inside FinalizeTimeout.
	PersistWriteTimeout = 3 * time.Second

	// MonitorPublishTimeout bounds one dashboard event PUBLISH
	MonitorPublishTimeout = 500 * time.Millisecond

	// NormalizationWait bounds how long finalization waits for transcript normalization
	NormalizationWait = 5 * time.Second
)

// Audio constants
const (
	// TelephonySampleRate is the μ-law sample rate on the media stream
	TelephonySampleRate = 8000

	// VADSampleRate is the sample rate the activity detector runs at
	VADSampleRate = 16000

	// SynthesisSampleRate is the PCM rate returned by the speech synthesizer
	SynthesisSampleRate = 24000

	// PlaybackChunkBytes is 20ms of 8kHz μ-law
	PlaybackChunkBytes = 160

	// PlaybackChunkInterval is the wall-clock spacing between outbound chunks
	PlaybackChunkInterval = 20 * time.Millisecond

	// MinSpeechDuration is the shortest segment handed to the turn processor
	MinSpeechDuration = 500 * time.Millisecond
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 50

	// MaxPageSize caps list endpoints
	MaxPageSize = 200
)

// Redis keys and channels
const (
	// SettingsKey is the hash holding the cross-call settings
	SettingsKey = "vocalq:settings"

	// SettingsChannel carries settings snapshots to every instance
	SettingsChannel = "vocalq:settings"

	// MonitorChannel fans live call events out across instances
	MonitorChannel = "vocalq:monitor"

	// SupervisorDevicesKey is the hash of push tokens notified after each call
	SupervisorDevicesKey = "vocalq:supervisor_devices"

	// RateLimitKeyPrefix prefixes per-caller webhook counters
	RateLimitKeyPrefix = "vocalq:ratelimit:"

	// AuditLogKey is the capped list of admin changes, newest first
	AuditLogKey = "vocalq:audit"

	// AuditLogMaxEntries caps AuditLogKey
	AuditLogMaxEntries = 1000
)

// Webhook rate limit
const (
	// WebhookRateLimit is the number of webhook calls allowed per caller per window
	WebhookRateLimit = 10

	// WebhookRateWindow is the fixed window for WebhookRateLimit
	WebhookRateWindow = time.Minute
)
