package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.GRPCAddr != ":8080" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":8080")
	}
	if cfg.HTTPAddr != ":8081" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8081")
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q, want default", cfg.RedisURL)
	}
	if !cfg.BackgroundJobsEnabled {
		t.Error("BackgroundJobsEnabled should default to true")
	}
	if cfg.QueueConcurrency != 5 {
		t.Errorf("QueueConcurrency = %d, want 5", cfg.QueueConcurrency)
	}
	if cfg.JobMaxAttempts != 5 {
		t.Errorf("JobMaxAttempts = %d, want 5", cfg.JobMaxAttempts)
	}
	if cfg.SequenceSweepSchedule != "@every 1m" {
		t.Errorf("SequenceSweepSchedule = %q, want %q", cfg.SequenceSweepSchedule, "@every 1m")
	}
	if cfg.TokenCleanupSchedule != "@daily" {
		t.Errorf("TokenCleanupSchedule = %q, want %q", cfg.TokenCleanupSchedule, "@daily")
	}
	if cfg.JWTIssuer != "flowcrm-auth" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "flowcrm-auth")
	}
	if cfg.EventLogKafkaTopic != "flowcrm-domain-events" {
		t.Errorf("EventLogKafkaTopic = %q, want default", cfg.EventLogKafkaTopic)
	}
	if got := cfg.CacheTTL(); got != 300*time.Second {
		t.Errorf("CacheTTL() = %v, want 300s", got)
	}
	if got := cfg.WebhookTimeoutDuration(); got != 10*time.Second {
		t.Errorf("WebhookTimeoutDuration() = %v, want 10s", got)
	}
	if got := cfg.SessionRetentionDuration(); got != 0 {
		t.Errorf("SessionRetentionDuration() = %v, want 0", got)
	}
	if cfg.HasSMTP() {
		t.Error("HasSMTP should be false without SMTP_HOST")
	}
	if cfg.WebhookSecretKeyBytes() != nil {
		t.Error("WebhookSecretKeyBytes should be nil when unset")
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":9090")
	os.Setenv("BACKGROUND_JOBS_ENABLED", "false")
	os.Setenv("QUEUE_CONCURRENCY", "12")
	os.Setenv("WEBHOOK_TIMEOUT", "3s")
	os.Setenv("SESSION_RETENTION", "168h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":9090")
	}
	if cfg.BackgroundJobsEnabled {
		t.Error("BackgroundJobsEnabled = true, want false")
	}
	if cfg.QueueConcurrency != 12 {
		t.Errorf("QueueConcurrency = %d, want 12", cfg.QueueConcurrency)
	}
	if got := cfg.WebhookTimeoutDuration(); got != 3*time.Second {
		t.Errorf("WebhookTimeoutDuration() = %v, want 3s", got)
	}
	if got := cfg.SessionRetentionDuration(); got != 168*time.Hour {
		t.Errorf("SessionRetentionDuration() = %v, want 168h", got)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"concurrency zero", map[string]string{"QUEUE_CONCURRENCY": "0"}, "QUEUE_CONCURRENCY"},
		{"concurrency too high", map[string]string{"QUEUE_CONCURRENCY": "65"}, "QUEUE_CONCURRENCY"},
		{"attempts zero", map[string]string{"JOB_MAX_ATTEMPTS": "0"}, "JOB_MAX_ATTEMPTS"},
		{"bad secret key", map[string]string{"WEBHOOK_SECRET_KEY": "abcd"}, "WEBHOOK_SECRET_KEY"},
		{"non hex secret key", map[string]string{"WEBHOOK_SECRET_KEY": strings.Repeat("zz", 32)}, "WEBHOOK_SECRET_KEY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("GRPC_ADDR", ":8080")
			for k, v := range tt.env {
				os.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %s", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad_WebhookSecretKey(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":8080")
	os.Setenv("WEBHOOK_SECRET_KEY", strings.Repeat("ab", 32))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := len(cfg.WebhookSecretKeyBytes()); got != 32 {
		t.Errorf("len(WebhookSecretKeyBytes()) = %d, want 32", got)
	}
}

func TestDurationHelpers_Fallbacks(t *testing.T) {
	cfg := &Config{
		JWTAccessTTL:         "bogus",
		JobPollInterval:      "-1s",
		JobVisibilityTimeout: "",
		DashboardCacheTTL:    "1m",
	}
	if got := cfg.AccessTTL(); got != 15*time.Minute {
		t.Errorf("AccessTTL() = %v, want 15m", got)
	}
	if got := cfg.PollInterval(); got != time.Second {
		t.Errorf("PollInterval() = %v, want 1s", got)
	}
	if got := cfg.VisibilityTimeout(); got != 5*time.Minute {
		t.Errorf("VisibilityTimeout() = %v, want 5m", got)
	}
	if got := cfg.CacheTTL(); got != time.Minute {
		t.Errorf("CacheTTL() = %v, want 1m", got)
	}
	for _, in := range []string{"", "soon", "-1h"} {
		if got := (&Config{SessionRetention: in}).SessionRetentionDuration(); got != 0 {
			t.Errorf("SessionRetentionDuration(%q) = %v, want 0", in, got)
		}
	}
}

func TestKafkaBrokersList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"localhost:9092", []string{"localhost:9092"}},
		{" a:1 , ,b:2 ", []string{"a:1", "b:2"}},
	}
	for _, tt := range tests {
		cfg := &Config{KafkaBrokers: tt.in}
		got := cfg.KafkaBrokersList()
		if len(got) != len(tt.want) {
			t.Errorf("KafkaBrokersList(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("KafkaBrokersList(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should return nil brokers")
	}
}
