package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.KafkaTopic != "driver-locations" || cfg.RedisGeoKey != "drivers_geo" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.BroadcastInterval != 3*time.Second {
		t.Fatalf("unexpected broadcast interval %s", cfg.BroadcastInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("OSRM_ENDPOINT", "http://osrm:5000")
	t.Setenv("POSITION_BROADCAST_INTERVAL", "5s")
	t.Setenv("OFFER_NEARBY_LIMIT", "3")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("addr override lost: %q", cfg.HTTPAddr)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("broker list wrong: %v", cfg.KafkaBrokers)
	}
	if cfg.OSRMEndpoint != "http://osrm:5000" || cfg.BroadcastInterval != 5*time.Second || cfg.OfferNearbyLimit != 3 {
		t.Fatalf("overrides lost: %+v", cfg)
	}
}

func TestLoadCollectsAllErrors(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "not-a-duration")
	t.Setenv("ETA_DEFAULT_SPEED_MPS", "fast")
	t.Setenv("OFFER_NEARBY_LIMIT", "-1")

	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected joined errors")
	}
}
