package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ============================================================
// Configuration
// ============================================================

type Config struct {
	Port         string `env:"PORT" envDefault:"5000"`
	Environment  string `env:"ENV" envDefault:"development"`
	ReadTimeout  int    `env:"READ_TIMEOUT" envDefault:"10"`
	WriteTimeout int    `env:"WRITE_TIMEOUT" envDefault:"90"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	DBPath    string `env:"SCENEGEN_DB_PATH" envDefault:"data/db/scenegen.db"`
	UploadDir string `env:"SCENEGEN_UPLOAD_DIR" envDefault:"data/uploads"`

	GenerationURL   string `env:"SCENEGEN_GENERATION_URL"`
	GenerationToken string `env:"SCENEGEN_GENERATION_TOKEN"`

	Debounce       time.Duration `env:"SCENEGEN_DEBOUNCE" envDefault:"400ms"`
	PersistRetries uint          `env:"SCENEGEN_PERSIST_RETRIES" envDefault:"4"`
	RenderTimeout  time.Duration `env:"SCENEGEN_RENDER_TIMEOUT" envDefault:"60s"`
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Debounce <= 0 {
		return nil, fmt.Errorf("SCENEGEN_DEBOUNCE must be positive, got %s", cfg.Debounce)
	}
	return cfg, nil
}
