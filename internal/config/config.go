package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Policy decides what happens to a task mutation when its reminder cannot be scheduled.
type Policy string

const (
	// PolicyDegraded commits the task and leaves it without a reminder.
	PolicyDegraded Policy = "degraded"
	// PolicyStrict rolls the task mutation back.
	PolicyStrict Policy = "strict"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret string
	JWTTTL    time.Duration

	LogLevel  string
	LogFormat string

	Policy   Policy
	Location *time.Location

	Dispatch DispatchConfig
	SMTP     SMTPConfig
}

type DispatchConfig struct {
	WorkerID      string
	Interval      time.Duration
	Concurrency   int
	Lease         time.Duration
	NotifyTimeout time.Duration
	Rate          float64 // notifications per second, 0 = unlimited
}

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	SenderName string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := Config{
		HTTPAddr:             v.GetString("HTTP_ADDR"),
		DatabaseURL:          strings.TrimSpace(v.GetString("DATABASE_URL")),
		CORSAllowCredentials: v.GetBool("CORS_ALLOW_CREDENTIALS"),
		JWTSecret:            strings.TrimSpace(v.GetString("JWT_SECRET")),
		JWTTTL:               v.GetDuration("JWT_TTL"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		LogFormat:            v.GetString("LOG_FORMAT"),
		Policy:               Policy(strings.ToLower(v.GetString("SCHEDULING_POLICY"))),
		Dispatch: DispatchConfig{
			WorkerID:      v.GetString("WORKER_ID"),
			Interval:      v.GetDuration("DISPATCH_INTERVAL"),
			Concurrency:   v.GetInt("DISPATCH_CONCURRENCY"),
			Lease:         v.GetDuration("DISPATCH_LEASE"),
			NotifyTimeout: v.GetDuration("NOTIFY_TIMEOUT"),
			Rate:          v.GetFloat64("NOTIFY_RATE"),
		},
		SMTP: SMTPConfig{
			Host:       strings.TrimSpace(v.GetString("SMTP_HOST")),
			Port:       v.GetInt("SMTP_PORT"),
			Username:   v.GetString("SMTP_USERNAME"),
			Password:   v.GetString("SMTP_PASSWORD"),
			From:       v.GetString("MAIL_FROM"),
			SenderName: v.GetString("MAIL_SENDER_NAME"),
		},
	}

	for _, o := range strings.Split(v.GetString("CORS_ALLOWED_ORIGINS"), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}
	if cfg.Dispatch.WorkerID == "" {
		cfg.Dispatch.WorkerID = "worker-" + uuid.NewString()
	}

	loc, err := time.LoadLocation(v.GetString("DEADLINE_TZ"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DEADLINE_TZ: %w", err)
	}
	cfg.Location = loc

	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("CORS_ALLOW_CREDENTIALS", false)
	v.SetDefault("JWT_TTL", 7*24*time.Hour)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("SCHEDULING_POLICY", string(PolicyDegraded))
	v.SetDefault("DEADLINE_TZ", "Local")
	v.SetDefault("DISPATCH_INTERVAL", 800*time.Millisecond)
	v.SetDefault("DISPATCH_CONCURRENCY", 1)
	v.SetDefault("DISPATCH_LEASE", 5*time.Minute)
	v.SetDefault("NOTIFY_TIMEOUT", 30*time.Second)
	v.SetDefault("NOTIFY_RATE", 5)
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("MAIL_SENDER_NAME", "TaskManager")
}

func validate(cfg Config) error {
	var errs []error
	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("missing env: DATABASE_URL"))
	}
	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("missing env: JWT_SECRET"))
	}
	if cfg.Policy != PolicyDegraded && cfg.Policy != PolicyStrict {
		errs = append(errs, fmt.Errorf("SCHEDULING_POLICY must be %q or %q, got %q", PolicyDegraded, PolicyStrict, cfg.Policy))
	}
	if cfg.LogFormat != "console" && cfg.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be console or json, got %q", cfg.LogFormat))
	}
	if cfg.JWTTTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	if cfg.Dispatch.Interval <= 0 {
		errs = append(errs, errors.New("DISPATCH_INTERVAL must be positive"))
	}
	if cfg.Dispatch.Concurrency < 1 {
		errs = append(errs, errors.New("DISPATCH_CONCURRENCY must be at least 1"))
	}
	if cfg.Dispatch.Lease < 0 || cfg.Dispatch.NotifyTimeout < 0 || cfg.Dispatch.Rate < 0 {
		errs = append(errs, errors.New("DISPATCH_LEASE, NOTIFY_TIMEOUT and NOTIFY_RATE must not be negative"))
	}
	// a lease that can expire mid-send lets another worker deliver the same job again
	if d := cfg.Dispatch; d.Lease > 0 {
		if d.NotifyTimeout == 0 {
			errs = append(errs, errors.New("NOTIFY_TIMEOUT must be set when DISPATCH_LEASE is"))
		} else if hold := d.NotifyTimeout + limiterWait(d); d.Lease <= hold {
			errs = append(errs, fmt.Errorf("DISPATCH_LEASE must exceed NOTIFY_TIMEOUT plus the rate limit wait (%s), got %s", hold, d.Lease))
		}
	}
	return errors.Join(errs...)
}

// limiterWait is the longest a taken job can wait for the shared limiter: one
// token per loop ahead of it.
func limiterWait(d DispatchConfig) time.Duration {
	if d.Rate <= 0 {
		return 0
	}
	return time.Duration(float64(d.Concurrency) / d.Rate * float64(time.Second))
}
