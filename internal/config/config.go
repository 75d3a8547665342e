package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration
type Config struct {
	Debug bool

	// Servers
	TCPAddr  string `validate:"required,hostname_port"`
	HTTPAddr string `validate:"required,hostname_port"`

	// Sessions
	MaxLineBytes int           `validate:"min=16,max=16777216"`
	IdleTimeout  time.Duration `validate:"min=0"`

	// Session ledger
	DBPath            string        `validate:"required"`
	RetentionMaxAge   time.Duration `validate:"min=0"`
	RetentionInterval time.Duration `validate:"gt=0"`

	// Live viewer
	FrameRate  float64 `validate:"gt=0"`
	FrameBurst int     `validate:"min=1"`

	// Discovery
	MDNSEnabled  bool
	MDNSInstance string
}

var validate = validator.New()

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	env := &envReader{}
	cfg := &Config{
		Debug: env.Bool("DEBUG", false),

		TCPAddr:  getEnv("DRAW_TCP_ADDR", ":12345"),
		HTTPAddr: getEnv("DRAW_HTTP_ADDR", ":8080"),

		MaxLineBytes: env.Int("DRAW_MAX_LINE_BYTES", 64*1024),
		IdleTimeout:  env.Duration("DRAW_IDLE_TIMEOUT", 0),

		DBPath:            getEnv("DRAW_DB_PATH", "./data/draw.db"),
		RetentionMaxAge:   env.Duration("DRAW_RETENTION_MAX_AGE", 7*24*time.Hour),
		RetentionInterval: env.Duration("DRAW_RETENTION_INTERVAL", 10*time.Minute),

		FrameRate:  env.Float("DRAW_FRAME_RATE", 30),
		FrameBurst: env.Int("DRAW_FRAME_BURST", 5),

		MDNSEnabled:  env.Bool("DRAW_MDNS", false),
		MDNSInstance: getEnv("DRAW_MDNS_INSTANCE", ""),
	}

	if err := env.err(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and reports every violation at once
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (got %v)", e.Field(), e.Tag(), e.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// TCPPort is the numeric port of TCPAddr, used for mDNS announcements
func (c *Config) TCPPort() (int, error) {
	_, port, err := net.SplitHostPort(c.TCPAddr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// envReader parses typed variables and remembers every value it rejected
type envReader struct {
	errs []string
}

func (r *envReader) reject(key, value string, err error) {
	r.errs = append(r.errs, fmt.Sprintf("%s=%q: %v", key, value, err))
}

func (r *envReader) err() error {
	if len(r.errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid environment: %s", strings.Join(r.errs, "; "))
}

func (r *envReader) Bool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		r.reject(key, value, err)
		return fallback
	}
	return b
}

func (r *envReader) Int(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		r.reject(key, value, err)
		return fallback
	}
	return i
}

func (r *envReader) Float(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.reject(key, value, err)
		return fallback
	}
	return f
}

// Duration needs a unit: "30" is rejected, "30s" is not
func (r *envReader) Duration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.reject(key, value, err)
		return fallback
	}
	return d
}
