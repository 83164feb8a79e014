package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	WebhookTargetURL  string `env:"WEBHOOK_TARGET_URL,required=true"`
	GoogleChatCreds   string `env:"GOOGLE_CHAT_SERVICE_ACCOUNT_JSON"`
	SlackWebhookURL   string `env:"SLACK_WEBHOOK_URL"`
	GeminiAPIKey      string `env:"GEMINI_API_KEY"`
	DeepSeekAPIKey    string `env:"DEEPSEEK_API_KEY"`
	AppDomain         string `env:"APP_DOMAIN,default=localhost"`
	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=16"`
	ScanIntervalMin   int    `env:"SCAN_INTERVAL_MINUTES,default=15"`
	BusinessHoursTZ   string `env:"BUSINESS_HOURS_TZ,default=America/Sao_Paulo"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
