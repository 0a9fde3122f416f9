package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  http_port: 9000\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Server.HTTPPort != 9000 {
		t.Errorf("http_port = %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.BodyLimitBytes != 10<<20 {
		t.Errorf("body limit = %d", cfg.Server.BodyLimitBytes)
	}
	if cfg.Auth.KeyCacheTTL != 5*time.Minute {
		t.Errorf("key cache ttl = %v", cfg.Auth.KeyCacheTTL)
	}
	if cfg.Tinybird.APIURL != "https://api.tinybird.co" || cfg.Tinybird.EventsDatasource != "website_events" {
		t.Errorf("tinybird = %+v", cfg.Tinybird)
	}
	if cfg.Kafka.Topics["events"] == "" || cfg.Kafka.Topics["identities"] == "" {
		t.Errorf("topics = %v", cfg.Kafka.Topics)
	}
	if !cfg.Sink.Enabled(SinkTinybird) || cfg.Sink.Enabled(SinkKafka) {
		t.Errorf("sink targets = %v", cfg.Sink.Targets)
	}
	if cfg.Batch.Size != 1000 || cfg.Batch.FlushInterval != 5*time.Second {
		t.Errorf("batch = %+v", cfg.Batch)
	}
	if cfg.Sessions.TTL != time.Hour {
		t.Errorf("sessions ttl = %v", cfg.Sessions.TTL)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("METRICPAL_TEST_TOKEN", "tb_secret")
	path := filepath.Join(t.TempDir(), "collector.yaml")
	data := `
tinybird:
  token: ${METRICPAL_TEST_TOKEN}
  max_retries: 5
sink:
  targets: [tinybird, kafka]
kafka:
  brokers: ["localhost:9092"]
  topics:
    events: custom.events
batch:
  flush_interval: 250ms
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tinybird.Token != "tb_secret" {
		t.Errorf("token = %q", cfg.Tinybird.Token)
	}
	if cfg.Tinybird.MaxRetries != 5 {
		t.Errorf("max retries = %d", cfg.Tinybird.MaxRetries)
	}
	if !cfg.Sink.Enabled(SinkKafka) {
		t.Error("kafka sink not enabled")
	}
	if cfg.Kafka.Topics["events"] != "custom.events" || cfg.Kafka.Topics["identities"] != "metricpal.identities" {
		t.Errorf("topics = %v", cfg.Kafka.Topics)
	}
	if cfg.Batch.FlushInterval != 250*time.Millisecond {
		t.Errorf("flush interval = %v", cfg.Batch.FlushInterval)
	}
}

func TestParseRejectsUnknownSink(t *testing.T) {
	if _, err := Parse([]byte("sink:\n  targets: [s3]\n")); err == nil {
		t.Error("expected error for unknown sink target")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
