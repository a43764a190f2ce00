package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Database.Driver != "postgres" {
		t.Errorf("server.port=%d driver=%s", cfg.Server.Port, cfg.Database.Driver)
	}
	if cfg.Redis.IdempotencyTTL != 24*time.Hour {
		t.Errorf("idempotency ttl = %s", cfg.Redis.IdempotencyTTL)
	}
	if cfg.Commerce.LowStockThreshold != 10 || cfg.Commerce.MaxDeliveryAttempts != 3 || cfg.Commerce.CommissionTaxRate != "18" {
		t.Errorf("commerce defaults = %+v", cfg.Commerce)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: 9090
database:
  driver: mysql
  host: db.local
  port: 3306
  user: shop
  password: secret
  dbname: market
kafka:
  enabled: true
  brokers: ["k1:9092"]
commerce:
  max_delivery_attempts: 5
`)
	t.Setenv("DB_HOST", "db.override")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Commerce.MaxDeliveryAttempts != 5 {
		t.Errorf("port=%d attempts=%d", cfg.Server.Port, cfg.Commerce.MaxDeliveryAttempts)
	}
	if got := cfg.Database.DSN(); got != "shop:secret@tcp(db.override:3306)/market?charset=utf8mb4&parseTime=True&loc=Local" {
		t.Errorf("dsn = %s", got)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	dir := writeConfig(t, "database:\n  driver: sqlite\n")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}
