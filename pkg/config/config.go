package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort  string `env:"SERVER_PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"`
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`

	Firebase Firebase
	Inbox    Inbox
	Chat     Chat
}

type Firebase struct {
	ProjectID          string `env:"FIREBASE_PROJECT_ID"`
	ServiceAccountJSON string `env:"FIREBASE_SERVICE_ACCOUNT_JSON"`
	ServiceAccountPath string `env:"FIREBASE_SERVICE_ACCOUNT_PATH" env-default:"./firebase-adminsdk.json"`
}

// Inbox tunes the realtime unread aggregation.
type Inbox struct {
	ResubscribeInterval  time.Duration `env:"INBOX_RESUBSCRIBE_INTERVAL" env-default:"2s"`
	ResubscribeBurst     int           `env:"INBOX_RESUBSCRIBE_BURST" env-default:"3"`
	WatcherWarnThreshold int           `env:"INBOX_WATCHER_WARN_THRESHOLD" env-default:"50"`
}

type Chat struct {
	WSSendBuffer         int `env:"WS_SEND_BUFFER" env-default:"32"`
	SendMessagePerMinute int `env:"SEND_MESSAGE_PER_MINUTE" env-default:"30"`
}

func Load() (*Config, error) {
	godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
