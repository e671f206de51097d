package config

import (
	"os"
	"testing"
)

func setBaseEnv(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("HTTP_ADDR", "127.0.0.1:8999")
	t.Setenv("SHUTDOWN_TIMEOUT", "1s")
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("ASYNQ_CONCURRENCY", "1")
}

func TestDataDirBinding(t *testing.T) {
	setBaseEnv(t)

	tmp := t.TempDir()
	t.Setenv("DATA_DIR", tmp)

	c, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if c.DataDir != tmp {
		t.Fatalf("expected data dir %s, got %s", tmp, c.DataDir)
	}
	if c.DiffThreshold != 0 {
		t.Fatalf("expected default diff threshold 0, got %v", c.DiffThreshold)
	}
	if c.GithubStatusContext != "CI - Visual" {
		t.Fatalf("unexpected default status context %q", c.GithubStatusContext)
	}
}

func TestDiffThresholdBinding(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("DIFF_THRESHOLD", "0.5")

	c, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if c.DiffThreshold != 0.5 {
		t.Fatalf("expected threshold 0.5, got %v", c.DiffThreshold)
	}
}

func TestInvalidLogLevelRejected(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "loud")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for bad log level")
	}
	// restore for other tests reading the package-level cfg
	os.Unsetenv("LOG_LEVEL")
}
