package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the relay server settings.
type Config struct {
	Port           string
	Environment    string
	ServiceName    string
	AllowedOrigins []string
	AMQPURL        string
	AMQPExchange   string
	RedisAddr      string
	DBDSN          string
	RoomSecret     string
	OTLPEndpoint   string
	DebugRoutes    bool
	SendBuffer     int
}

// AllowsAnyOrigin reports whether cross-origin access is unrestricted.
func (c Config) AllowsAnyOrigin() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return len(c.AllowedOrigins) == 0
}

// Load reads the environment, after applying an optional dotenv file.
// envFile may be empty; a missing file is not an error.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", envFile, err)
			}
			log.Printf("config loaded env file=%s", envFile)
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("stat %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("PORT", "3001")
	v.SetDefault("ENVIRONMENT", "dev")
	v.SetDefault("SERVICE_NAME", "classroom-relay")
	v.SetDefault("ALLOWED_ORIGINS", "*")
	v.SetDefault("AMQP_URL", "")
	v.SetDefault("AMQP_EXCHANGE", "relay.events")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("ROOM_TOKEN_SECRET", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("DEBUG_ROUTES", false)
	v.SetDefault("SEND_BUFFER", 256)
	v.AutomaticEnv()

	cfg := Config{
		Port:           v.GetString("PORT"),
		Environment:    v.GetString("ENVIRONMENT"),
		ServiceName:    v.GetString("SERVICE_NAME"),
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		AMQPURL:        v.GetString("AMQP_URL"),
		AMQPExchange:   v.GetString("AMQP_EXCHANGE"),
		RedisAddr:      v.GetString("REDIS_ADDR"),
		DBDSN:          v.GetString("DB_DSN"),
		RoomSecret:     v.GetString("ROOM_TOKEN_SECRET"),
		OTLPEndpoint:   v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		DebugRoutes:    v.GetBool("DEBUG_ROUTES"),
		SendBuffer:     v.GetInt("SEND_BUFFER"),
	}
	if cfg.SendBuffer <= 0 {
		return Config{}, fmt.Errorf("SEND_BUFFER must be positive, got %d", cfg.SendBuffer)
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
