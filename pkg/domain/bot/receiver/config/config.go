package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
)

// DefaultPath is where the process looks for its YAML config.
var DefaultPath = filepath.Join("cmd/bot/etc", "app.yml")

type Config struct {
	PostgreAddr string `yaml:"postgre_addr" validate:"required"`
	RedisAddr   string `yaml:"redis_addr"`
	WebhookURL  string `yaml:"webhook_url" validate:"omitempty,url"`
	HTTPPort    int    `yaml:"http_port" validate:"required,min=1,max=65535"`
	WorkerCount int    `yaml:"worker_count" validate:"required,min=1"`
	DoctorID    int64  `yaml:"doctor_id" validate:"required,min=1"`
	Timezone    string `yaml:"timezone" validate:"required"`

	Log        LogConfig        `yaml:"log"`
	Booking    BookingConfig    `yaml:"booking"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Google     GoogleConfig     `yaml:"google"`

	// Secrets, from the environment only.
	BotToken      string `yaml:"-" validate:"required"`
	WebhookSecret string `yaml:"-"`
	AdminToken    string `yaml:"-"`
	RedisPassword string `yaml:"-"`
	OpenAIAPIKey  string `yaml:"-"`
	GeminiAPIKey  string `yaml:"-"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

type BookingConfig struct {
	MaxActive          int           `yaml:"max_active" validate:"min=1"`
	HorizonDays        int           `yaml:"horizon_days" validate:"min=1,max=90"`
	MaxDates           int           `yaml:"max_dates" validate:"min=1,max=30"`
	DefaultDurationMin int           `yaml:"default_duration_min" validate:"min=5"`
	SessionTTL         time.Duration `yaml:"session_ttl" validate:"min=1m"`
	ExternalTimeout    time.Duration `yaml:"external_timeout" validate:"min=1s"`
}

type ClassifierConfig struct {
	Provider  string  `yaml:"provider" validate:"omitempty,oneof=openai gemini"`
	Model     string  `yaml:"model"`
	Threshold float64 `yaml:"threshold" validate:"gt=0,lte=1"`
}

type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	CalendarID      string `yaml:"calendar_id"`
	SheetID         string `yaml:"sheet_id"`
	SheetRange      string `yaml:"sheet_range"`
}

// Enabled reports whether any Google integration is configured.
func (g GoogleConfig) Enabled() bool {
	return g.CalendarID != "" || g.SheetID != ""
}

func defaults() Config {
	return Config{
		WorkerCount: 8,
		Timezone:    "Asia/Yerevan",
		Log:         LogConfig{Level: "info"},
		Booking: BookingConfig{
			MaxActive:          3,
			HorizonDays:        21,
			MaxDates:           14,
			DefaultDurationMin: 30,
			SessionTTL:         24 * time.Hour,
			ExternalTimeout:    8 * time.Second,
		},
		Classifier: ClassifierConfig{Threshold: 0.7},
		Google:     GoogleConfig{SheetRange: "Appointments!A1"},
	}
}

// LoadConfig reads the YAML file at path over the defaults, seeds the
// environment from .env when present and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New("failed to read config file").Arg("path", path).Wrap(err)
	}

	cfg := defaults()
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.New("failed to unmarshal YAML").Wrap(err)
	}

	if err = godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errs.New("failed to load .env").Wrap(err)
	}
	cfg.BotToken = os.Getenv("TG_TOKEN")
	cfg.WebhookSecret = os.Getenv("TG_WEBHOOK_SECRET")
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	// Validate
	if err = validator.New().Struct(cfg); err != nil {
		return nil, errs.New("config validation failed").Wrap(err)
	}
	if _, err = time.LoadLocation(cfg.Timezone); err != nil {
		return nil, errs.New("unknown timezone").Arg("timezone", cfg.Timezone).Wrap(err)
	}

	return &cfg, nil
}

// ClassifierKey returns the API key for the configured provider.
func (c *Config) ClassifierKey() string {
	switch c.Classifier.Provider {
	case "openai":
		return c.OpenAIAPIKey
	case "gemini":
		return c.GeminiAPIKey
	}
	return ""
}
