// Package config loads process configuration from defaults, YAML files,
// EC_-prefixed environment variables and flags, in that order.
package config

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const minJWTSecretLen = 32

// Config is shared by the api, notifier and archiver processes. Each one
// reads only the sections it needs.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	OpsAddr     string `default:"0.0.0.0:9090" usage:"Listen address for /metrics and health on worker processes" flag:"ops-addr"`
	DatabaseURL string `usage:"PostgreSQL connection URL (EC_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Migrate     bool   `default:"true" usage:"Create missing tables on startup"`
	JWTSecret   string `usage:"HMAC secret used to verify access tokens (EC_JWT_SECRET)" flag:"jwt-secret"`
	Kafka       KafkaConfig
	Outbox      OutboxConfig
	SMTP        SMTPConfig
	Archive     ArchiveConfig
	Graceful    GracefulConfig
}

type KafkaConfig struct {
	Brokers       []string `default:"localhost:9092" usage:"Kafka bootstrap brokers"`
	Topic         string   `default:"order-events" usage:"Topic order events are published to"`
	NotifierGroup string   `default:"order-notifier" usage:"Consumer group of the notifier"`
	ArchiverGroup string   `default:"order-archiver" usage:"Consumer group of the archiver"`
}

// OutboxConfig controls the relay that publishes committed order events.
type OutboxConfig struct {
	Enabled   bool          `default:"true" usage:"Run the outbox relay inside the API process"`
	Interval  time.Duration `default:"1s" usage:"Delay between outbox polls"`
	BatchSize int           `default:"100" usage:"Maximum events published per batch"`
}

type SMTPConfig struct {
	Host string `default:"localhost" usage:"SMTP server host"`
	Port string `default:"1025" usage:"SMTP server port"`
	From string `default:"noreply@ec-orders.local" usage:"Sender address"`
}

type ArchiveConfig struct {
	Table    string `default:"order-events" usage:"DynamoDB table for archived order events"`
	Region   string `default:"ap-northeast-1" usage:"AWS region of the archive table"`
	Endpoint string `usage:"DynamoDB endpoint override, e.g. http://localhost:8000 for DynamoDB Local"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s" usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// Load loads configuration from environment variables, YAML config files,
// flags, and applies platform-specific defaults.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "EC",
		Files:     []string{"config.yaml", "/etc/ec-orders/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
		Args: args,
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	return &cfg, nil
}

// applyPlatformDefaults maps the conventional DATABASE_URL and PORT
// variables onto the EC_-prefixed settings.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set EC_DATABASE_URL or DATABASE_URL")
	}
	return nil
}

func (c *Config) RequireJWTSecret() error {
	if len(c.JWTSecret) < minJWTSecretLen {
		return errors.Errorf("jwt secret must be at least %d characters: set EC_JWT_SECRET", minJWTSecretLen)
	}
	return nil
}
