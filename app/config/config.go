package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      Log      `yaml:"log"`
	DB       DB       `yaml:"db"`
	Telegram Telegram `yaml:"telegram"`
	OpenAI   OpenAI   `yaml:"openai"`
	Quota    Quota    `yaml:"quota"`
	Session  Session  `yaml:"session"`
	HTTP     HTTP     `yaml:"http"`
	Plans    []Plan   `yaml:"plans"`
}

type OpenAI struct {
	Reply ModelConfig `yaml:"reply" validate:"required"`
	// Optional secondary model for emotional-tone classification.
	// Leave the token empty to skip the mood pass entirely.
	Mood ModelConfig `yaml:"mood"`
}

type ModelConfig struct {
	// OpenAI base url
	BaseURL string `yaml:"base_url" example:"https://api.openai.com/v1"`
	// OpenAI token
	Token string `yaml:"token" example:"sk-proj-abc123456789DEF789ghi012JKL345mno678PQR901stu234VWX"`
	// OpenAI model
	Model string `yaml:"model" example:"gpt-4o"`
}

type Telegram struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789" validate:"required"`
	// Log outgoing messages instead of sending them
	DisableDelivery bool `yaml:"disable_delivery" example:"false"`
}

type Quota struct {
	// Number of free conversational turns per user
	FreeLimit int `yaml:"free_limit" example:"5"`
}

type Session struct {
	// Seconds of silence before the "still there?" prompt
	IdleSeconds int `yaml:"idle_seconds" example:"600"`
	// Seconds after the prompt before the summary is offered
	FollowUpSeconds int `yaml:"follow_up_seconds" example:"120"`
}

type HTTP struct {
	// Keep-alive listen address
	Addr string `yaml:"addr" example:":8080"`
}

type Plan struct {
	// Display title of the subscription plan
	Title string `yaml:"title" example:"Weekly plan" validate:"required"`
	// Checkout link of the payment provider
	URL string `yaml:"url" validate:"required,url"`
	// Subscription length granted by the plan
	DurationDays int `yaml:"duration_days" example:"7" validate:"required,min=1"`
}

type Log struct {
	// Telegram operator-channel logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

type DB struct {
	// Storage driver: "file" or "postgres"
	Driver string `yaml:"driver" example:"file" validate:"required,oneof=file postgres"`
	// Path of the JSON-lines user database (file driver)
	Path string `yaml:"path" example:"data/users.jsonl"`
	// Postgres username
	User string `yaml:"user" example:"postgres"`
	// Postgres password
	Pass string `yaml:"pass"`
	// Postgres host
	Host string `yaml:"host" example:"localhost:5432"`
	// Postgres database name
	Database string `yaml:"database" example:"serena"`
}

func Load() (*Config, error) {
	var result Config

	data, err := os.ReadFile("config.yaml")
	if err != nil {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, &result); err != nil {
		return nil, oops.Errorf("failed to parse YAML config: %w", err)
	}

	if result.DB.Driver == "" {
		result.DB.Driver = "file"
	}
	if result.DB.Path == "" {
		result.DB.Path = "data/users.jsonl"
	}
	if result.DB.User == "" {
		result.DB.User = "postgres"
	}
	if result.DB.Pass == "" {
		result.DB.Pass = "postgres"
	}
	if result.DB.Host == "" {
		result.DB.Host = "localhost:5432"
	}
	if result.DB.Database == "" {
		result.DB.Database = "serena"
	}
	if result.Quota.FreeLimit == 0 {
		result.Quota.FreeLimit = 5
	}
	if result.Session.IdleSeconds == 0 {
		result.Session.IdleSeconds = 600
	}
	if result.Session.FollowUpSeconds == 0 {
		result.Session.FollowUpSeconds = 120
	}
	if result.HTTP.Addr == "" {
		result.HTTP.Addr = ":8080"
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	return &result, nil
}
