package config

import (
	"os"
	"testing"

	"github.com/intelcon-group/gt06-gateway/internal/protocol"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TCP_PORT", "HTTP_PORT", "METRICS_PORT", "LOG_LEVEL", "LOG_FORMAT",
		"STATIC_DIR", "DEVICE_IDLE_TIMEOUT", "OBSERVER_IDLE_TIMEOUT",
		"SHUTDOWN_GRACE", "QUEUE_CAP", "HEMISPHERE_MODE",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TCPPort != 5000 {
		t.Fatalf("expected default TCP port 5000, got %d", cfg.TCPPort)
	}
	if cfg.HemisphereMode != protocol.HemisphereSigned {
		t.Fatalf("expected default hemisphere mode signed")
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("TCP_PORT", "9000")
	os.Setenv("HEMISPHERE_MODE", "flagbits")
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TCPPort != 9000 {
		t.Fatalf("expected overridden TCP port 9000, got %d", cfg.TCPPort)
	}
	if cfg.HemisphereMode != protocol.HemisphereFlagBits {
		t.Fatalf("expected flagbits hemisphere mode")
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	clearEnv(t)
	os.Setenv("TCP_PORT", "0")
	defer clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid TCP_PORT")
	}
}

func TestLoadAggregatesMultipleErrors(t *testing.T) {
	clearEnv(t)
	os.Setenv("TCP_PORT", "0")
	os.Setenv("LOG_FORMAT", "xml")
	defer clearEnv(t)

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error")
	}
	msg := err.Error()
	if !contains(msg, "TCP_PORT") || !contains(msg, "LOG_FORMAT") {
		t.Fatalf("expected both errors in aggregated message, got: %s", msg)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
