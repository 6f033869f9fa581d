package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN          string `env:"DATABASE_DSN,required=true"`
	RedisURL             string `env:"REDIS_URL,required=true"`
	MailGatewayURL       string `env:"MAIL_GATEWAY_URL,required=true"`
	UnsubscribeSecret    string `env:"UNSUBSCRIBE_SECRET,required=true"`
	AdminToken           string `env:"ADMIN_TOKEN,required=true"`
	SiteBaseURL          string `env:"SITE_BASE_URL,default=http://localhost:3000"`
	SiteName             string `env:"SITE_NAME,default=Forum"`
	FlushIntervalSeconds int    `env:"FLUSH_INTERVAL_SECONDS,default=60"`
	FlushClaimLimit      int    `env:"FLUSH_CLAIM_LIMIT,default=100"`
	RateLimitPerSec      int    `env:"RATE_LIMIT_PER_SEC,default=10"`
	APIPort              int    `env:"API_PORT,default=8080"`
	LogLevel             string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
