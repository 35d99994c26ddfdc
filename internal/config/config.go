package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the overall application configuration.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	LogLevel    string `envconfig:"LOG_LEVEL"                    default:"info"`

	Redis   RedisConfig
	SMPP    SMPPConfig
	Webhook WebhookConfig
	Worker  WorkerConfig
	HTTP    HTTPConfig
}

// RedisConfig holds the queue backend connection settings.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"     default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB"       default:"0"`
}

// SMPPConfig holds transport session configuration. Host, port and
// credentials normally come from the active SMSC config row; these values
// act as fallbacks and tune session behaviour.
type SMPPConfig struct {
	Host                 string        `envconfig:"SMPP_HOST"`
	Port                 int           `envconfig:"SMPP_PORT"                  default:"2775"`
	SystemID             string        `envconfig:"SMPP_USERNAME"`
	Password             string        `envconfig:"SMPP_PASSWORD"`
	SystemType           string        `envconfig:"SMPP_SYSTEM_TYPE"           default:"OTP"`
	DefaultSourceAddr    string        `envconfig:"SMPP_DEFAULT_SOURCE_ADDR"   default:"SMPP"`
	EnquireLink          time.Duration `envconfig:"SMPP_ENQUIRE_LINK"          default:"30s"`
	RequestTimeout       time.Duration `envconfig:"SMPP_REQUEST_TIMEOUT"       default:"10s"`
	MaxReconnectAttempts int           `envconfig:"SMPP_MAX_RECONNECT_ATTEMPTS" default:"10"`
}

// WebhookConfig tunes subscriber callback delivery.
type WebhookConfig struct {
	Timeout       time.Duration `envconfig:"WEBHOOK_TIMEOUT"        default:"30s"`
	RetryAttempts int           `envconfig:"WEBHOOK_RETRY_ATTEMPTS" default:"3"`
	Secret        string        `envconfig:"WEBHOOK_SECRET"         default:""`
}

// WorkerConfig tunes the queue consumer loops.
type WorkerConfig struct {
	PopTimeout   time.Duration `envconfig:"WORKER_POP_TIMEOUT"   default:"5s"`
	ErrorBackoff time.Duration `envconfig:"WORKER_ERROR_BACKOFF" default:"5s"`
}

// HTTPConfig holds the API/ingestion server configuration.
type HTTPConfig struct {
	Addr         string        `envconfig:"HTTP_ADDR"          default:"0.0.0.0:8000"`
	ReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT"  default:"10s"`
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout  time.Duration `envconfig:"HTTP_IDLE_TIMEOUT"  default:"60s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, skipping: %v", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
