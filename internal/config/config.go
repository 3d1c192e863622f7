package config

import (
	"errors"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	LLMAPIKey      string `env:"LLM_API_KEY"`
	LLMBaseURL     string `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	LLMModel       string `env:"LLM_MODEL" envDefault:"gpt-5.1"`
	AnalysisModel  string `env:"ANALYSIS_LLM_MODEL" envDefault:"gpt-5-mini"`
	EmbeddingModel string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`

	AuthJWTSecret string `env:"AUTH_JWT_SECRET"`
	DevAuthHeader bool   `env:"DEV_AUTH_HEADER" envDefault:"false"`

	// Flags de despliegue. Producción corre con todos apagados.
	UseV4Pipeline bool `env:"USE_V4_PIPELINE" envDefault:"false"`
	MockLLM       bool `env:"MOCK_LLM" envDefault:"false"`
	MockDatabase  bool `env:"MOCK_DATABASE" envDefault:"false"`
	MockPayment   bool `env:"MOCK_PAYMENT" envDefault:"false"`

	PostUpdateWorkers  int `env:"POST_UPDATE_WORKERS" envDefault:"32"`
	RequestTimeoutSecs int `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"30"`
	LLMTimeoutSecs     int `env:"LLM_TIMEOUT_SECONDS" envDefault:"20"`
}

// LoadConfig carga la configuración desde variables de entorno.
// DATABASE_URL y LLM_API_KEY solo son obligatorias cuando el flag de mock
// correspondiente está apagado.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if !cfg.MockDatabase && cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL requerida sin MOCK_DATABASE")
	}
	if !cfg.MockLLM && cfg.LLMAPIKey == "" {
		return nil, errors.New("config: LLM_API_KEY requerida sin MOCK_LLM")
	}
	return &cfg, nil
}
