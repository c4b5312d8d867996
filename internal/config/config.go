package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`

	JWTSecret            string   `env:"JWT_SECRET"`
	JWTAccessTTLMinutes  int      `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"15"`
	JWTRefreshTTLMinutes int      `env:"JWT_REFRESH_TTL_MINUTES" envDefault:"43200"`
	AdminEmails          []string `env:"ADMIN_EMAILS" envSeparator:","`
	LoginMaxAttempts     int      `env:"LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	LoginWindowMinutes   int      `env:"LOGIN_WINDOW_MINUTES" envDefault:"10"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME"`
	SMTPUseTLS   bool   `env:"SMTP_USE_TLS" envDefault:"false"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Chatbot: una sola implementación, configurada por opciones.
	ChatPurgeOnEnd      bool          `env:"CHAT_PURGE_ON_END" envDefault:"true"`
	ChatContextTTLHours int           `env:"CHAT_CONTEXT_TTL_HOURS" envDefault:"24"`
	ChatIdleTTL         time.Duration `env:"CHAT_IDLE_TTL" envDefault:"30m"`
	ChatSweepInterval   time.Duration `env:"CHAT_SWEEP_INTERVAL" envDefault:"1m"`
	TranscriptListen    bool          `env:"TRANSCRIPT_LISTEN" envDefault:"false"`

	KafkaBrokers         []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaEscalationTopic string   `env:"KAFKA_ESCALATION_TOPIC" envDefault:"chat.crisis-escalations"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
