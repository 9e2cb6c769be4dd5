package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every environment input the service reads. Unknown
// variables are ignored by envconfig; required ones fail startup.
type Config struct {
	Address string `envconfig:"ADDRESS" default:"0.0.0.0"`
	Port    string `envconfig:"PORT" default:"3000"`
	TlsCert string `envconfig:"TLS_CERT"`
	TlsKey  string `envconfig:"TLS_KEY"`

	PrintHttpRequests bool   `envconfig:"PRINT_HTTP_REQUESTS"`
	LogLevel          string `envconfig:"LOG_LEVEL" default:"debug"`
	LogToFile         bool   `envconfig:"LOG_TO_FILE"`

	JwtSecret         string `envconfig:"JWT_SECRET" required:"true"`
	SnowflakeWorkerID int64  `envconfig:"SNOWFLAKE_WORKER_ID" default:"0"`

	// SelfContained runs without external mysql/redis: sqlite file for
	// the database, in-process key value store and pub/sub.
	SelfContained bool `envconfig:"SELF_CONTAINED"`

	DbUser     string `envconfig:"DB_USER"`
	DbPassword string `envconfig:"DB_PASSWORD"`
	DbAddress  string `envconfig:"DB_ADDRESS" default:"localhost"`
	DbPort     string `envconfig:"DB_PORT" default:"3306"`
	DbDatabase string `envconfig:"DB_DATABASE" default:"guildchat"`

	RedisAddress  string `envconfig:"REDIS_ADDRESS" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDb       int    `envconfig:"REDIS_DB"`

	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"45s"`
	ResumeWindow      time.Duration `envconfig:"RESUME_WINDOW" default:"120s"`
	IdentifyDeadline  time.Duration `envconfig:"IDENTIFY_DEADLINE" default:"30s"`

	IdentifyRateLimit int `envconfig:"IDENTIFY_RATE_LIMIT" default:"1"`
	PresenceRateLimit int `envconfig:"PRESENCE_RATE_LIMIT" default:"5"`
	OpRateLimit       int `envconfig:"OP_RATE_LIMIT" default:"120"`
}

func Load() (*Config, error) {
	var cfg Config
	err := envconfig.Process("GUILDCHAT", &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
