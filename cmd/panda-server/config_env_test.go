package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := &appConfig{
		listenAddr:      ":20000",
		logFormat:       "text",
		logLevel:        "info",
		metricsAddr:     "",
		hubBuffer:       512,
		hubPolicy:       "drop",
		canIf:           "",
		maxClients:      0,
		handshakeTO:     3 * time.Second,
		clientReadTO:    60 * time.Second,
		logMetricsEvery: 0,
		mdnsEnable:      false,
		mdnsName:        "",
	}

	// Set env overrides
	os.Setenv("PANDA_SERVER_IF", "vcan0")
	os.Setenv("PANDA_SERVER_MDNS_ENABLE", "true")
	os.Setenv("PANDA_SERVER_CLIENT_READ_TIMEOUT", "100ms")
	os.Setenv("PANDA_SERVER_LOG_METRICS_INTERVAL", "5s")
	t.Cleanup(func() {
		os.Unsetenv("PANDA_SERVER_IF")
		os.Unsetenv("PANDA_SERVER_MDNS_ENABLE")
		os.Unsetenv("PANDA_SERVER_CLIENT_READ_TIMEOUT")
		os.Unsetenv("PANDA_SERVER_LOG_METRICS_INTERVAL")
	})
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.canIf != "vcan0" {
		t.Fatalf("expected canIf override, got %q", base.canIf)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.clientReadTO != 100*time.Millisecond {
		t.Fatalf("expected clientReadTO 100ms got %v", base.clientReadTO)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{hubBuffer: 512}
	os.Setenv("PANDA_SERVER_HUB_BUFFER", "64")
	t.Cleanup(func() { os.Unsetenv("PANDA_SERVER_HUB_BUFFER") })
	// Simulate user passed -hub-buffer flag (so env should be ignored)
	if err := applyEnvOverrides(base, map[string]struct{}{"hub-buffer": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.hubBuffer != 512 {
		t.Fatalf("expected hubBuffer unchanged 512 got %d", base.hubBuffer)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	base := &appConfig{hubBuffer: 512}
	os.Setenv("PANDA_SERVER_HUB_BUFFER", "notint")
	t.Cleanup(func() { os.Unsetenv("PANDA_SERVER_HUB_BUFFER") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}

func TestApplyEnvOverrides_BadDuration(t *testing.T) {
	base := &appConfig{handshakeTO: 3 * time.Second}
	os.Setenv("PANDA_SERVER_HANDSHAKE_TIMEOUT", "soon")
	t.Cleanup(func() { os.Unsetenv("PANDA_SERVER_HANDSHAKE_TIMEOUT") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}
