package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the process-wide configuration shared by every lambda function
// and the local dev server.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	JWTSecret string        `env:"JWT_SECRET,required"`
	JWTTTL    time.Duration `env:"JWT_TTL,default=24h"`

	LinkSecret    string        `env:"ANAMNESIS_LINK_SECRET"`
	LinkWindow    time.Duration `env:"ANAMNESIS_LINK_WINDOW,default=30m"`
	PublicBaseURL string        `env:"PUBLIC_BASE_URL,default=http://localhost:3000"`

	KMSKeyID         string `env:"KMS_KEY_ID"`
	IdempotencyTable string `env:"IDEMPOTENCY_TABLE_NAME,default=psi-idempotency"`

	BedrockModelID   string `env:"BEDROCK_MODEL_ID,default=anthropic.claude-3-sonnet-20240229-v1:0"`
	BedrockMaxTokens int    `env:"BEDROCK_MAX_TOKENS,default=2048"`
	GenerationCost   int64  `env:"GENERATION_CREDIT_COST,default=1"`

	RedisURL           string        `env:"REDIS_URL"`
	TranscriptTTL      time.Duration `env:"TRANSCRIPT_TTL,default=2h"`
	TranscriptMaxBytes int64         `env:"TRANSCRIPT_MAX_BYTES,default=262144"`
	PeerTTL            time.Duration `env:"PEER_TTL,default=2h"`

	StorageEndpoint  string `env:"STORAGE_ENDPOINT"`
	StorageAccessKey string `env:"STORAGE_ACCESS_KEY"`
	StorageSecretKey string `env:"STORAGE_SECRET_KEY"`
	StorageBucket    string `env:"STORAGE_BUCKET,default=psi-documents"`
	StorageUseSSL    bool   `env:"STORAGE_USE_SSL,default=true"`

	LogLevel string `env:"LOG_LEVEL,default=info"`

	DevServerAddr   string `env:"DEV_SERVER_ADDR,default=:8080"`
	DevRateLimitRPS int    `env:"DEV_RATE_LIMIT_RPS,default=5"`
}

// Load reads an optional .env file and decodes the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.LinkWindow <= 0 {
		return errors.New("ANAMNESIS_LINK_WINDOW must be positive")
	}
	if c.GenerationCost <= 0 {
		return errors.New("GENERATION_CREDIT_COST must be positive")
	}
	if c.TranscriptMaxBytes <= 0 {
		return errors.New("TRANSCRIPT_MAX_BYTES must be positive")
	}
	if c.JWTTTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}
	return nil
}

// RedisEnabled reports whether the ephemeral psicochat stores are configured.
func (c *Config) RedisEnabled() bool { return c.RedisURL != "" }

// StorageEnabled reports whether object storage is configured.
func (c *Config) StorageEnabled() bool { return c.StorageEndpoint != "" }
