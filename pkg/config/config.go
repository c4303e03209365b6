package config

import (
	"fmt"
	"time"

	"vocalq-backend/pkg/env"
)

// Config holds all configuration for the voice service
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cassandra CassandraConfig
	MinIO     MinIOConfig
	OpenAI    OpenAIConfig
	Deepgram  DeepgramConfig
	Qdrant    QdrantConfig
	Voice     VoiceConfig
	Push      PushConfig
	Log       LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Environment    string // development, staging, production
	ServiceName    string
	AllowedOrigins []string
	TrustedProxies []string // IPs or CIDRs allowed to set X-Forwarded-* headers
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
	Migrate  bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// CassandraConfig holds Cassandra configuration
type CassandraConfig struct {
	Enabled  bool
	Hosts    []string
	Keyspace string
	Timeout  time.Duration
}

// MinIOConfig holds MinIO configuration for call recordings
type MinIOConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// MaxRecordingBytes caps inbound audio captured per call (8000 bytes per second).
	MaxRecordingBytes int
}

// OpenAIConfig holds OpenAI endpoints and model names
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	RealtimeURL        string
	ChatModel          string
	TranscriptionModel string
	SpeechModel        string
	Voice              string
	EmbeddingModel     string
	Timeout            time.Duration
}

// DeepgramConfig holds Deepgram streaming STT configuration
type DeepgramConfig struct {
	APIKey   string
	URL      string
	Model    string
	Language string
}

// QdrantConfig holds the knowledge base vector store configuration
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Limit      int
}

// VoiceConfig tunes the call session and the activity detector
type VoiceConfig struct {
	Mode             string // pipeline, relay
	Transcriber      string // openai, deepgram
	Greeting         string
	InboundEnabled   bool
	SpeechThreshold  float64
	FallbackRMS      int
	EnergyFloor      int
	GraceRMS         int
	SilenceFrames    int
	MaxSpeechFrames  int
	HistoryTurns     int
	Transliterate    bool
	WebhookRateLimit int
}

// PushConfig holds supervisor notification configuration
type PushConfig struct {
	Provider            string // fcm, apns, both, mock
	FirebaseProjectID   string
	FirebaseCredentials string
	APNsKeyPath         string
	APNsKeyID           string
	APNsTeamID          string
	APNsTopic           string
	APNsProduction      bool
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// DefaultGreeting is spoken when no greeting has been configured
const DefaultGreeting = "Hello, this is VocalQ from Tekisho. Which language do you prefer?"

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           env.GetInt("PORT", 8080),
			Environment:    env.GetString("ENV", "development"),
			ServiceName:    env.GetString("SERVICE_NAME", "voice-service"),
			AllowedOrigins: env.GetStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			TrustedProxies: env.GetStringSlice("TRUSTED_PROXIES", nil),
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "vocalq"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
			MinConns: env.GetInt("DB_MIN_CONNS", 5),
			Migrate:  env.GetBool("DB_MIGRATE", true),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		Cassandra: CassandraConfig{
			Enabled:  env.GetBool("CASSANDRA_ENABLED", false),
			Hosts:    env.GetStringSlice("CASSANDRA_HOSTS", []string{"localhost"}),
			Keyspace: env.GetString("CASSANDRA_KEYSPACE", "vocalq"),
			Timeout:  env.GetDuration("CASSANDRA_TIMEOUT", 600*time.Millisecond),
		},
		MinIO: MinIOConfig{
			Enabled:           env.GetBool("RECORDING_ENABLED", false),
			Endpoint:          env.GetString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:         env.GetStringFromFile("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:         env.GetStringFromFile("MINIO_SECRET_KEY", "minioadmin"),
			UseSSL:            env.GetBool("MINIO_USE_SSL", false),
			Bucket:            env.GetString("MINIO_BUCKET", "vocalq-recordings"),
			MaxRecordingBytes: env.GetInt("RECORDING_MAX_BYTES", 8000*60*30),
		},
		OpenAI: OpenAIConfig{
			APIKey:             env.GetStringFromFile("OPENAI_API_KEY", ""),
			BaseURL:            env.GetString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			RealtimeURL:        env.GetString("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime?model=gpt-4o-mini-realtime-preview-2024-12-17"),
			ChatModel:          env.GetString("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
			TranscriptionModel: env.GetString("OPENAI_STT_MODEL", "whisper-1"),
			SpeechModel:        env.GetString("OPENAI_TTS_MODEL", "tts-1"),
			Voice:              env.GetString("OPENAI_VOICE", "alloy"),
			EmbeddingModel:     env.GetString("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			Timeout:            env.GetDuration("OPENAI_TIMEOUT", 30*time.Second),
		},
		Deepgram: DeepgramConfig{
			APIKey:   env.GetStringFromFile("DEEPGRAM_API_KEY", ""),
			URL:      env.GetString("DEEPGRAM_URL", "wss://api.deepgram.com/v1/listen"),
			Model:    env.GetString("DEEPGRAM_MODEL", "nova-3"),
			Language: env.GetString("DEEPGRAM_LANGUAGE", "multi"),
		},
		Qdrant: QdrantConfig{
			URL:        env.GetString("QDRANT_URL", "http://localhost:6333"),
			APIKey:     env.GetStringFromFile("QDRANT_API_KEY", ""),
			Collection: env.GetString("QDRANT_COLLECTION", "knowledge_base"),
			Limit:      env.GetInt("QDRANT_SEARCH_LIMIT", 3),
		},
		Voice: VoiceConfig{
			Mode:             env.GetString("VOICE_MODE", "relay"),
			Transcriber:      env.GetString("VOICE_TRANSCRIBER", "openai"),
			Greeting:         env.GetString("VOICE_GREETING", DefaultGreeting),
			InboundEnabled:   env.GetBool("INBOUND_ENABLED", false),
			SpeechThreshold:  env.GetFloat("VAD_SPEECH_THRESHOLD", 0.5),
			FallbackRMS:      env.GetInt("VAD_FALLBACK_RMS", 150),
			EnergyFloor:      env.GetInt("VAD_ENERGY_FLOOR", 400),
			GraceRMS:         env.GetInt("VAD_GRACE_RMS", 700),
			SilenceFrames:    env.GetInt("VAD_SILENCE_FRAMES", 8),
			MaxSpeechFrames:  env.GetInt("VAD_MAX_SPEECH_FRAMES", 90),
			HistoryTurns:     env.GetInt("VOICE_HISTORY_TURNS", 5),
			Transliterate:    env.GetBool("VOICE_TRANSLITERATE", true),
			WebhookRateLimit: env.GetInt("WEBHOOK_RATE_LIMIT", 10),
		},
		Push: PushConfig{
			Provider:            env.GetString("PUSH_PROVIDER", "mock"),
			FirebaseProjectID:   env.GetString("FIREBASE_PROJECT_ID", ""),
			FirebaseCredentials: env.GetString("FIREBASE_CREDENTIALS_PATH", ""),
			APNsKeyPath:         env.GetString("APNS_KEY_PATH", ""),
			APNsKeyID:           env.GetString("APNS_KEY_ID", ""),
			APNsTeamID:          env.GetString("APNS_TEAM_ID", ""),
			APNsTopic:           env.GetString("APNS_TOPIC", ""),
			APNsProduction:      env.GetBool("APNS_PRODUCTION", false),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/voice-service.log"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Voice.Mode {
	case "pipeline", "relay":
	default:
		return fmt.Errorf("VOICE_MODE must be pipeline or relay, got %q", c.Voice.Mode)
	}

	switch c.Voice.Transcriber {
	case "openai":
	case "deepgram":
		if c.Deepgram.APIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY must be set when VOICE_TRANSCRIBER=deepgram")
		}
	default:
		return fmt.Errorf("VOICE_TRANSCRIBER must be openai or deepgram, got %q", c.Voice.Transcriber)
	}

	if c.Server.Environment == "production" && c.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY must be set in production")
	}

	if c.Voice.SpeechThreshold <= 0 || c.Voice.SpeechThreshold >= 1 {
		return fmt.Errorf("VAD_SPEECH_THRESHOLD must be between 0 and 1")
	}
	if c.Voice.SilenceFrames < 1 || c.Voice.MaxSpeechFrames < 1 {
		return fmt.Errorf("VAD_SILENCE_FRAMES and VAD_MAX_SPEECH_FRAMES must be positive")
	}
	if c.Voice.EnergyFloor > c.Voice.GraceRMS {
		return fmt.Errorf("VAD_GRACE_RMS must not be below VAD_ENERGY_FLOOR")
	}

	return nil
}
