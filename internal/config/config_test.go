package config

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.ProxyPort != DefaultProxyPort {
		t.Errorf("expected proxy port %d, got %d", DefaultProxyPort, cfg.Server.ProxyPort)
	}
	if cfg.Server.AdminPort != DefaultAdminPort {
		t.Errorf("expected admin port %d, got %d", DefaultAdminPort, cfg.Server.AdminPort)
	}
	if cfg.HealthCheck.Failures != 3 {
		t.Errorf("expected default failures threshold 3, got %d", cfg.HealthCheck.Failures)
	}
	if cfg.HealthCheck.Passes != 2 {
		t.Errorf("expected default passes threshold 2, got %d", cfg.HealthCheck.Passes)
	}
	if cfg.Manager.SubscriberInFlightCap != 5 {
		t.Errorf("expected subscriber in-flight cap 5, got %d", cfg.Manager.SubscriberInFlightCap)
	}
	if cfg.Proxy.ConnectTimeout <= 0 || cfg.Proxy.WriteTimeout <= 0 || cfg.Proxy.ReadTimeout <= 0 {
		t.Error("expected all three upstream timeouts to have positive defaults")
	}
}

func TestHealthCheckConfigThresholdsAreIndependent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HealthCheck.Failures = 10
	other := DefaultConfig()
	if other.HealthCheck.Failures == 10 {
		t.Error("mutating one Config's HealthCheck must not affect a fresh DefaultConfig()")
	}
}

func TestDefaultFileWriteDelayIsPositive(t *testing.T) {
	if DefaultFileWriteDelay <= 0 {
		t.Error("expected a positive settle delay before re-reading a changed config file")
	}
	if DefaultFileWriteDelay > time.Second {
		t.Error("settle delay should stay well under a second to keep reload snappy")
	}
}
