package config

import (
	"strings"
	"testing"
	"time"

	"github.com/Murzuq/Cash-Padi/shared/money"
)

var configKeys = []string{
	"PORT", "APP_ENV", "LOG_LEVEL", "STORE_DRIVER", "DATABASE_URL", "REDIS_ADDR",
	"REDIS_PASSWORD", "REDIS_DB", "EVENT_BROKER", "KAFKA_BROKERS", "WELCOME_BONUS",
	"LOCK_TIMEOUT", "PIN_MAX_ATTEMPTS", "PIN_LOCKOUT", "RECIPIENT_CACHE_TTL", "SERVICE_TOKEN",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8085" || cfg.StoreDriver != StorePostgres || cfg.EventBroker != BrokerRedis {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.WelcomeBonus != money.Naira(50000) {
		t.Errorf("welcome bonus = %s", cfg.WelcomeBonus)
	}
	if cfg.LockTimeout != 3*time.Second || cfg.PinLockout != 15*time.Minute || cfg.PinMaxAttempts != 5 {
		t.Errorf("unexpected timing defaults %+v", cfg)
	}
	if cfg.RecipientCacheTTL != 10*time.Minute {
		t.Errorf("recipient ttl = %s", cfg.RecipientCacheTTL)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("EVENT_BROKER", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("WELCOME_BONUS", "0")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("REDIS_DB", "2")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StoreDriver != StoreMemory {
		t.Errorf("store driver = %q", cfg.StoreDriver)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.KafkaBrokers)
	}
	if cfg.WelcomeBonus != 0 || cfg.LockTimeout != 250*time.Millisecond || cfg.RedisDB != 2 {
		t.Errorf("unexpected overrides %+v", cfg)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "bad driver", env: map[string]string{"STORE_DRIVER": "mongo", "EVENT_BROKER": "none"}, wantErr: "STORE_DRIVER"},
		{name: "bad broker", env: map[string]string{"EVENT_BROKER": "nats"}, wantErr: "EVENT_BROKER"},
		{name: "redis without addr", env: map[string]string{"EVENT_BROKER": "redis"}, wantErr: "REDIS_ADDR"},
		{name: "kafka without brokers", env: map[string]string{"EVENT_BROKER": "kafka"}, wantErr: "KAFKA_BROKERS"},
		{name: "fractional kobo bonus", env: map[string]string{"EVENT_BROKER": "none", "WELCOME_BONUS": "1.001"}, wantErr: "WELCOME_BONUS"},
		{name: "bad duration", env: map[string]string{"EVENT_BROKER": "none", "LOCK_TIMEOUT": "soon"}, wantErr: "LOCK_TIMEOUT"},
		{name: "bad int", env: map[string]string{"EVENT_BROKER": "none", "PIN_MAX_ATTEMPTS": "five"}, wantErr: "PIN_MAX_ATTEMPTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}
