// Package config provides configuration loading from environment variables.
package config

import (
	"log/slog"
	"time"

	"github.com/joho/godotenv"
)

// Intake kinds
const (
	IntakeRedis = "redis"
	IntakeNATS  = "nats"
	IntakeOnce  = "once"
)

// ClientConfig holds settings for the queue and storage clients.
type ClientConfig struct {
	BaseURL            string
	APIKey             string
	StorageInitiateURL string
	Timeout            time.Duration // per HTTP request
	DummyMode          bool          // serve queue and storage from the in-process simulator
}

// WorkerConfig holds configuration for the diffusion worker.
type WorkerConfig struct {
	Client ClientConfig

	LogLevel          string // debug, info, warn or error
	Port              string // ops server (health, metrics, job lookup)
	APIKey            string // ops server auth, empty disables
	ShutdownDrainWait time.Duration
	ShutdownGrace     time.Duration // in-flight jobs allowed after intake stops
	DBPath            string

	Endpoint     string
	PollInterval time.Duration
	Timeout      time.Duration // per subscription, 0 = unbounded
	MaxAttempts  int
	Concurrency  int
	CallbackURL  string // CloudEvents destination, empty disables
	SigningKey   string

	Intake        string
	RedisAddr     string
	RedisDB       int
	InputQueue    string
	OutputQueue   string
	NATSURL       string
	InputSubject  string
	OutputSubject string
	Prompt        string // IntakeOnce
}

// Load reads a .env file when present. Variables already set in the
// environment take precedence.
func Load(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}
}

// LoadWorkerConfig loads worker configuration from environment variables.
func LoadWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		Client: ClientConfig{
			BaseURL:            GetEnv("FAL_BASE_URL", "https://queue.fal.run"),
			APIKey:             GetSecret("FAL_KEY"),
			StorageInitiateURL: GetEnv("FAL_STORAGE_INITIATE_URL", ""),
			Timeout:            GetDurationEnv("FAL_HTTP_TIMEOUT", 60*time.Second),
			DummyMode:          GetBoolEnv("DUMMY_MODE", false),
		},
		LogLevel:          GetEnv("LOG_LEVEL", "info"),
		Port:              GetEnv("PORT", "8080"),
		APIKey:            GetSecret("API_KEY"),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		ShutdownGrace:     GetDurationEnv("SHUTDOWN_GRACE", 30*time.Second),
		DBPath:            GetEnv("DB_PATH", "diffusion.db"),

		Endpoint:     GetEnv("ENDPOINT_ID", "fal-ai/fast-sdxl"),
		PollInterval: GetDurationEnv("POLL_INTERVAL", 500*time.Millisecond),
		Timeout:      GetDurationEnv("SUBSCRIPTION_TIMEOUT", 5*time.Minute),
		MaxAttempts:  GetIntEnv("MAX_ATTEMPTS", 3),
		Concurrency:  GetIntEnv("WORKER_CONCURRENCY", 4),
		CallbackURL:  GetEnv("CALLBACK_URL", ""),
		SigningKey:   GetSecret("CALLBACK_SIGNING_KEY"),

		Intake:        GetEnv("INTAKE", IntakeOnce),
		RedisAddr:     GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:       GetIntEnv("REDIS_DB", 0),
		InputQueue:    GetEnv("REDIS_INPUT_QUEUE", "diffusion:requests"),
		OutputQueue:   GetEnv("REDIS_OUTPUT_QUEUE", "diffusion:results"),
		NATSURL:       GetEnv("NATS_URL", "nats://localhost:4222"),
		InputSubject:  GetEnv("NATS_INPUT_SUBJECT", "diffusion.requests"),
		OutputSubject: GetEnv("NATS_OUTPUT_SUBJECT", "diffusion.results"),
		Prompt:        GetEnv("PROMPT", "A cat"),
	}
}
