package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds everything cmd/server needs, read from the environment.
type Config struct {
	HTTPAddr string `validate:"required"`
	GRPCAddr string `validate:"required"`

	DBDriver          string        `validate:"required,oneof=mysql postgres postgresql pgx sqlite sqlite3"`
	DBDSN             string        `validate:"required"`
	DBMaxOpenConns    int           `validate:"gte=0"`
	DBMaxIdleConns    int           `validate:"gte=0"`
	DBConnMaxLifetime time.Duration `validate:"gte=0"`

	// RedisAddr is optional; without it idempotency keys and the stock cache are off.
	RedisAddr string `validate:"omitempty,hostname_port"`

	JWTSecret string `validate:"required,min=16"`

	LogLevel        string        `validate:"oneof=trace debug info warn warning error fatal panic"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// Load reads an optional .env file, then the process environment. Malformed
// numbers and durations are reported together with the validation failures.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := &envReader{}
	cfg := &Config{
		HTTPAddr:          env.text("HTTP_ADDR", ":8080"),
		GRPCAddr:          env.text("GRPC_ADDR", "127.0.0.1:9090"),
		DBDriver:          strings.ToLower(env.text("DB_DRIVER", "sqlite")),
		DBDSN:             env.text("DB_DSN", "stockroom.db"),
		DBMaxOpenConns:    env.number("DB_MAX_OPEN_CONNS", 50),
		DBMaxIdleConns:    env.number("DB_MAX_IDLE_CONNS", 25),
		DBConnMaxLifetime: env.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		LogLevel:          strings.ToLower(env.text("LOG_LEVEL", "info")),
		ShutdownTimeout:   env.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	problems := append(env.problems, cfg.problems()...)
	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(problems, ", "))
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the struct tags and reports every failing field at once.
func (c *Config) Validate() error {
	if problems := c.problems(); len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, ", "))
	}
	return nil
}

func (c *Config) problems() []string {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return fields
}

// NewLogger builds the JSON logger shared by every component.
func NewLogger(level string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	log.SetOutput(out)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// envReader reads typed variables and keeps every malformed value it meets.
type envReader struct {
	problems []string
}

func (r *envReader) text(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *envReader) number(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.problems = append(r.problems, fmt.Sprintf("%s (not an integer: %q)", key, v))
		return def
	}
	return n
}

// duration accepts Go durations ("30s") or plain seconds.
func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	r.problems = append(r.problems, fmt.Sprintf("%s (not a duration: %q)", key, v))
	return def
}
