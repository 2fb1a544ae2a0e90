// Package config loads dutybot configuration from a JSON file or from
// DUTYBOT_-prefixed environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level dutybot configuration.
type Config struct {
	Bot   BotConfig    `json:"bot"`
	Slack *SlackConfig `json:"slack,omitempty"`
	API   APIConfig    `json:"api"`
}

// BotConfig holds the Telegram bot and reminder settings.
type BotConfig struct {
	Token           string `json:"token"`
	ReminderSeconds int    `json:"reminder_interval"` // seconds between reminders
	ReminderChatID  int64  `json:"reminder_chat_id"`
	ReminderTopicID int    `json:"reminder_topic_id,omitempty"`
	StatusChatID    int64  `json:"status_chat_id"`
	StatusTopicID   int    `json:"status_topic_id,omitempty"`
	TicketsFile     string `json:"tickets_file"`
	UTCOffset       int    `json:"utc_offset"` // hours east of UTC for displayed times
}

// SlackConfig holds the optional Slack status mirror settings.
type SlackConfig struct {
	Token   string `json:"token"`
	Channel string `json:"channel"`
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// ReminderInterval returns the reminder period as a duration.
func (c *Config) ReminderInterval() time.Duration {
	return time.Duration(c.Bot.ReminderSeconds) * time.Second
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with DUTYBOT_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Bot: BotConfig{
			Token:           os.Getenv("DUTYBOT_TOKEN"),
			ReminderSeconds: getenvInt("DUTYBOT_REMINDER_INTERVAL", 600),
			ReminderChatID:  getenvInt64("DUTYBOT_REMINDER_CHAT_ID", 0),
			ReminderTopicID: getenvInt("DUTYBOT_REMINDER_TOPIC_ID", 0),
			StatusChatID:    getenvInt64("DUTYBOT_STATUS_CHAT_ID", 0),
			StatusTopicID:   getenvInt("DUTYBOT_STATUS_TOPIC_ID", 0),
			TicketsFile:     getenv("DUTYBOT_TICKETS_FILE", "tickets.json"),
			UTCOffset:       getenvInt("DUTYBOT_UTC_OFFSET", 3),
		},
		API: APIConfig{
			Host: getenv("DUTYBOT_API_HOST", "0.0.0.0"),
			Port: getenvInt("DUTYBOT_API_PORT", 8080),
			Key:  os.Getenv("DUTYBOT_API_KEY"),
		},
	}

	if token := os.Getenv("DUTYBOT_SLACK_TOKEN"); token != "" {
		cfg.Slack = &SlackConfig{
			Token:   token,
			Channel: os.Getenv("DUTYBOT_SLACK_CHANNEL"),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Bot.ReminderSeconds == 0 {
		c.Bot.ReminderSeconds = 600
	}
	if c.Bot.TicketsFile == "" {
		c.Bot.TicketsFile = "tickets.json"
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Bot.Token == "" {
		errs = append(errs, "bot.token is required")
	}
	if c.Bot.ReminderSeconds <= 0 {
		errs = append(errs, "bot.reminder_interval must be positive")
	}
	if c.Bot.ReminderChatID == 0 {
		errs = append(errs, "bot.reminder_chat_id is required")
	}
	if c.Bot.StatusChatID == 0 {
		errs = append(errs, "bot.status_chat_id is required")
	}
	if c.Bot.TicketsFile == "" {
		errs = append(errs, "bot.tickets_file is required")
	}

	if c.Slack != nil {
		if c.Slack.Token == "" {
			errs = append(errs, "slack.token is required")
		}
		if c.Slack.Channel == "" {
			errs = append(errs, "slack.channel is required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
