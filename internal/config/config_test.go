package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/taskminder")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("DEADLINE_TZ", "UTC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.Policy != PolicyDegraded {
		t.Fatalf("Policy = %q, want degraded", cfg.Policy)
	}
	if cfg.Dispatch.Interval != 800*time.Millisecond || cfg.Dispatch.Lease != 5*time.Minute {
		t.Fatalf("Dispatch = %+v", cfg.Dispatch)
	}
	if !strings.HasPrefix(cfg.Dispatch.WorkerID, "worker-") {
		t.Fatalf("WorkerID = %q", cfg.Dispatch.WorkerID)
	}
	if cfg.Location != time.UTC {
		t.Fatalf("Location = %v", cfg.Location)
	}
	if cfg.SMTP.Port != 587 || cfg.SMTP.SenderName != "TaskManager" {
		t.Fatalf("SMTP = %+v", cfg.SMTP)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SCHEDULING_POLICY", "STRICT")
	t.Setenv("DISPATCH_INTERVAL", "2s")
	t.Setenv("DISPATCH_CONCURRENCY", "4")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("WORKER_ID", "w-1")
	t.Setenv("DISPATCH_LEASE", "45s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Policy != PolicyStrict {
		t.Fatalf("Policy = %q", cfg.Policy)
	}
	if cfg.Dispatch.Interval != 2*time.Second || cfg.Dispatch.Concurrency != 4 || cfg.Dispatch.WorkerID != "w-1" || cfg.Dispatch.Lease != 45*time.Second {
		t.Fatalf("Dispatch = %+v", cfg.Dispatch)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://b.test" {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "missing db", env: map[string]string{"DATABASE_URL": " "}, want: "DATABASE_URL"},
		{name: "bad policy", env: map[string]string{"SCHEDULING_POLICY": "maybe"}, want: "SCHEDULING_POLICY"},
		{name: "bad tz", env: map[string]string{"DEADLINE_TZ": "Mars/Olympus"}, want: "DEADLINE_TZ"},
		{name: "zero concurrency", env: map[string]string{"DISPATCH_CONCURRENCY": "0"}, want: "DISPATCH_CONCURRENCY"},
		{name: "lease equals notify timeout", env: map[string]string{"DISPATCH_LEASE": "30s"}, want: "DISPATCH_LEASE"},
		{name: "lease inside limiter wait", env: map[string]string{"DISPATCH_LEASE": "31s", "DISPATCH_CONCURRENCY": "10", "NOTIFY_RATE": "5"}, want: "DISPATCH_LEASE"},
		{name: "lease without notify timeout", env: map[string]string{"NOTIFY_TIMEOUT": "0s"}, want: "NOTIFY_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
