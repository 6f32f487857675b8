package config

import "testing"

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.SocketPath != defaultSocketPath {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
	if cfg.APIRoot != defaultAPIRoot {
		t.Errorf("APIRoot = %q", cfg.APIRoot)
	}
	if cfg.ComputeAccountsAPIVersion != "alpha" {
		t.Errorf("ComputeAccountsAPIVersion = %q", cfg.ComputeAccountsAPIVersion)
	}
}

func TestParseFlags(t *testing.T) {
	cfg, err := Parse([]string{
		"-socket", "/tmp/sock",
		"-api-root", "https://example.com/",
		"-computeaccounts-api-version", "v1",
		"-logging-level", "debug",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.SocketPath != "/tmp/sock" {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
	if cfg.APIRoot != "https://example.com/" {
		t.Errorf("APIRoot = %q", cfg.APIRoot)
	}
	if cfg.ComputeAccountsAPIVersion != "v1" {
		t.Errorf("ComputeAccountsAPIVersion = %q", cfg.ComputeAccountsAPIVersion)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestParseEnvFallback(t *testing.T) {
	t.Setenv("ACCOUNTS_PROXY_SOCKET", "/tmp/env-sock")
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.SocketPath != "/tmp/env-sock" {
		t.Errorf("SocketPath = %q, want env override", cfg.SocketPath)
	}
}
