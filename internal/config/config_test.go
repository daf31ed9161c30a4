package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("line:\n  channel_token: ${ALINE_TEST_TOKEN}\n"), 0600)
	t.Setenv("ALINE_TEST_TOKEN", "secret123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Line.ChannelToken != "secret123" {
		t.Errorf("channel_token = %q, want %q", cfg.Line.ChannelToken, "secret123")
	}
}

func TestLoad_DefaultsAndDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("news:\n  refresh: 30m\nscheduler:\n  tick: 5s\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.News.Refresh != 30*time.Minute {
		t.Errorf("news.refresh = %v, want 30m", cfg.News.Refresh)
	}
	if cfg.Scheduler.Tick != 5*time.Second {
		t.Errorf("scheduler.tick = %v, want 5s", cfg.Scheduler.Tick)
	}
	if cfg.Memory.Size != 10 {
		t.Errorf("memory.size = %d, want 10", cfg.Memory.Size)
	}
	if cfg.Router.MaxTurns != 3 {
		t.Errorf("router.max_turns = %d, want 3", cfg.Router.MaxTurns)
	}
	if cfg.Router.HandlerMaxTurns != 3 {
		t.Errorf("router.handler_max_turns = %d, want 3", cfg.Router.HandlerMaxTurns)
	}
	if cfg.Scheduler.Timezone != "Asia/Seoul" {
		t.Errorf("scheduler.timezone = %q, want Asia/Seoul", cfg.Scheduler.Timezone)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Env = "staging"
	cfg.Router.MaxTurns = -1
	cfg.Router.HandlerMaxTurns = -2
	cfg.Models.Handler = "gpt-4o"
	cfg.Scheduler.Timezone = "Mars/Olympus"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"env", "router.max_turns", "router.handler_max_turns", "models.handler", "scheduler.timezone"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q missing %q", err, want)
		}
	}
}

func TestValidate_ProdNeedsChannelSecret(t *testing.T) {
	cfg := Default()
	cfg.Env = "prod"
	cfg.Line.ChannelToken = "tok"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want channel_secret error")
	}
	cfg.Line.ChannelSecret = "sec"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}
