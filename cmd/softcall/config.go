package main

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config настройки клиента из переменных окружения.
type Config struct {
	LocusURL  string `env:"LOCUS_URL,required,notEmpty"`
	PushURL   string `env:"PUSH_URL,required,notEmpty"`
	DeviceURL string `env:"DEVICE_URL,required,notEmpty"`

	// Либо постоянный токен, либо параметры обновления по refresh токену
	AccessToken  string `env:"ACCESS_TOKEN"`
	TokenURL     string `env:"TOKEN_URL"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RefreshToken string `env:"REFRESH_TOKEN"`

	// LicenseURL сервис активации видео, пусто - видео недоступно
	LicenseURL     string        `env:"LICENSE_URL"`
	EntitlementTTL time.Duration `env:"ENTITLEMENT_TTL" envDefault:"10m"`

	ListenAddr     string        `env:"LISTEN_ADDR" envDefault:":8080"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	ActionTimeout  time.Duration `env:"ACTION_TIMEOUT" envDefault:"10s"`
	ToneInterval   time.Duration `env:"TONE_INTERVAL" envDefault:"0s"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadEnv подгружает ENV_FILE (по умолчанию .env) в окружение.
// Отсутствие файла по умолчанию не ошибка.
func LoadEnv() error {
	if file := os.Getenv("ENV_FILE"); file != "" {
		return godotenv.Load(file)
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// LoadConfig читает конфигурацию из окружения.
func LoadConfig() (*Config, error) {
	cfg := new(Config)
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	if c.AccessToken == "" && (c.TokenURL == "" || c.RefreshToken == "") {
		return errors.New("either ACCESS_TOKEN or TOKEN_URL with REFRESH_TOKEN must be set")
	}
	if c.ToneInterval < 0 {
		return errors.Errorf("negative TONE_INTERVAL %s", c.ToneInterval)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "LOG_LEVEL")
	}
	return nil
}
