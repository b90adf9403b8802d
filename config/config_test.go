package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":10001" {
		t.Fatalf("server.address = %q", cfg.Server.Address)
	}
	if cfg.Research.MaxIterations != 3 || cfg.Research.MaxSources != 10 {
		t.Fatalf("research defaults = %+v", cfg.Research)
	}
	if cfg.Research.SearchTimeout != 15*time.Second {
		t.Fatalf("search_timeout = %v", cfg.Research.SearchTimeout)
	}
	if cfg.Dispatch.Mode != DispatchLocal {
		t.Fatalf("dispatch.mode = %q", cfg.Dispatch.Mode)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"server": {"address": ":8080", "jwt_secret": "s3cret"},
		"llm": {"api_key": "k", "model": "gpt-4o"},
		"research": {"max_iterations": 5},
		"dispatch": {"mode": "redis"},
		"storage": {"redis": {"host": "redis.internal", "port": "6380"}}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8080" || cfg.Server.JWTSecret != "s3cret" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Research.MaxIterations != 5 {
		t.Fatalf("max_iterations = %d", cfg.Research.MaxIterations)
	}
	if cfg.Storage.Redis.Addr() != "redis.internal:6380" {
		t.Fatalf("redis addr = %q", cfg.Storage.Redis.Addr())
	}
	// Defaults survive partial files.
	if cfg.Research.MaxSources != 10 {
		t.Fatalf("max_sources = %d", cfg.Research.MaxSources)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("INQUEST_RESEARCH_MAX_ITERATIONS", "7")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Research.MaxIterations != 7 {
		t.Fatalf("max_iterations = %d, want env override 7", cfg.Research.MaxIterations)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	writeAndLoad := func(body string) error {
		path := filepath.Join(dir, "config.json")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		_, err := Load(path)
		return err
	}

	if err := writeAndLoad(`{"research": {"max_iterations": 0}}`); err == nil {
		t.Fatal("zero max_iterations accepted")
	}
	if err := writeAndLoad(`{"dispatch": {"mode": "carrier-pigeon"}}`); err == nil {
		t.Fatal("unknown dispatch mode accepted")
	}
	if err := writeAndLoad(`{"dispatch": {"mode": "redis"}, "storage": {"redis": {"host": ""}}}`); err == nil {
		t.Fatal("redis dispatch without redis host accepted")
	}
	if err := writeAndLoad(`{"research": {"score_threshold": 1.5}}`); err == nil {
		t.Fatal("out-of-range score threshold accepted")
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: "5432", User: "app", Password: "pw", DBName: "inquest"}
	dsn := p.DSN()
	want := "postgres://app:pw@db:5432/inquest?sslmode=disable"
	if dsn != want {
		t.Fatalf("DSN = %q, want %q", dsn, want)
	}

	direct := PostgresConfig{URL: "postgres://x@y/z"}
	if direct.DSN() != "postgres://x@y/z" {
		t.Fatalf("url passthrough = %q", direct.DSN())
	}
}
