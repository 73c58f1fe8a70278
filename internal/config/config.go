// Package config loads bot configuration from the environment, command-line
// flags and the optional routing file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/facilitydesk/repair-bot/internal/models"
)

type Config struct {
	TelegramToken string
	OperatorIDs   []int64
	DBPath        string
	RoutingFile   string
	Routing       Routing
	WebhookURL    string // webhook mode when set, long polling otherwise
	WebhookSecret string
	HTTPAddr      string
	SendTimeout   time.Duration // bound on a single notification delivery
	LogLevel      string
	LogFormat     string // json or console
	NATSURL       string // lifecycle events are published when set
}

// Routing holds the per-category notification settings.
type Routing struct {
	// Responsible maps a category to the label shown as the responsible person.
	Responsible map[models.Category]string
	// Recipients overrides the operator broadcast for a category.
	Recipients map[models.Category][]int64
}

// Load builds the configuration. Flags win over environment variables.
func Load(args []string) (Config, error) {
	var cfg Config
	var operators string

	fs := pflag.NewFlagSet("repair-bot", pflag.ContinueOnError)
	fs.StringVar(&cfg.TelegramToken, "token", os.Getenv("TELEGRAM_BOT_TOKEN"), "Telegram bot token")
	fs.StringVar(&operators, "operators", os.Getenv("OPERATOR_IDS"), "comma-separated operator Telegram ids")
	fs.StringVar(&cfg.DBPath, "db", getEnvOrDefault("DB_PATH", "./data/repair.db"), "SQLite database path")
	fs.StringVar(&cfg.RoutingFile, "routing", os.Getenv("ROUTING_FILE"), "YAML file with per-category routing")
	fs.StringVar(&cfg.WebhookURL, "webhook-url", os.Getenv("WEBHOOK_URL"), "public base URL for webhook mode")
	fs.StringVar(&cfg.WebhookSecret, "webhook-secret", os.Getenv("WEBHOOK_SECRET"), "secret path segment for the webhook")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", getEnvOrDefault("HTTP_ADDR", ":8080"), "listen address for health, metrics and webhook")
	fs.DurationVar(&cfg.SendTimeout, "send-timeout", getDurationEnv("SEND_TIMEOUT", 10*time.Second), "timeout for one notification delivery")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnvOrDefault("LOG_LEVEL", "info"), "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnvOrDefault("LOG_FORMAT", "json"), "log output: json or console")
	fs.StringVar(&cfg.NATSURL, "nats-url", os.Getenv("NATS_URL"), "NATS server for lifecycle events")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.TelegramToken == "" {
		return Config{}, errors.New("TELEGRAM_BOT_TOKEN is not set")
	}

	ids, err := ParseIDs(operators)
	if err != nil {
		return Config{}, fmt.Errorf("invalid OPERATOR_IDS: %w", err)
	}
	if len(ids) == 0 {
		return Config{}, errors.New("at least one operator id is required")
	}
	cfg.OperatorIDs = ids

	if cfg.WebhookURL != "" && cfg.WebhookSecret == "" {
		return Config{}, errors.New("WEBHOOK_SECRET is required in webhook mode")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return Config{}, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
	if cfg.SendTimeout <= 0 {
		return Config{}, errors.New("send timeout must be positive")
	}

	cfg.Routing, err = LoadRouting(cfg.RoutingFile)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ParseIDs parses a comma-separated list of Telegram ids.
func ParseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, idStr := range strings.Split(s, ",") {
		idStr = strings.TrimSpace(idStr)
		if idStr == "" {
			continue
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id '%s': %w", idStr, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type routingFile struct {
	Responsible map[string]string  `yaml:"responsible"`
	Recipients  map[string][]int64 `yaml:"recipients"`
}

// LoadRouting reads the routing file. An empty path yields empty tables.
func LoadRouting(path string) (Routing, error) {
	routing := Routing{
		Responsible: map[models.Category]string{},
		Recipients:  map[models.Category][]int64{},
	}
	if path == "" {
		return routing, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Routing{}, fmt.Errorf("read routing file: %w", err)
	}

	var raw routingFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Routing{}, fmt.Errorf("parse routing file: %w", err)
	}

	for key, label := range raw.Responsible {
		c, err := models.ParseCategory(key)
		if err != nil {
			return Routing{}, fmt.Errorf("routing file responsible: %w", err)
		}
		routing.Responsible[c] = label
	}
	for key, ids := range raw.Recipients {
		c, err := models.ParseCategory(key)
		if err != nil {
			return Routing{}, fmt.Errorf("routing file recipients: %w", err)
		}
		if len(ids) == 0 {
			return Routing{}, fmt.Errorf("routing file recipients: empty list for %s", c)
		}
		routing.Recipients[c] = ids
	}

	return routing, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
