// Copyright 2025 James Ross
package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatal("expected an error: database_url/worker_id are required and absent from defaults")
	}
	if cfg != nil {
		t.Fatalf("expected nil config on validation failure, got %+v", cfg)
	}
}

func TestLoadDefaultsWithRequiredFieldsSet(t *testing.T) {
	t.Setenv("HOOK0_DISPATCHER_DATABASE_URL", "postgres://localhost/hook0")
	t.Setenv("HOOK0_DISPATCHER_WORKER_ID", "worker-1")

	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Dispatcher.Concurrent != 10 {
		t.Errorf("default concurrent = %d, want 10", cfg.Dispatcher.Concurrent)
	}
	if cfg.Dispatcher.Scope != "public" {
		t.Errorf("default scope = %q, want public", cfg.Dispatcher.Scope)
	}
	if cfg.Observability.MetricsPort != 9090 {
		t.Errorf("default metrics port = %d, want 9090", cfg.Observability.MetricsPort)
	}
}

func TestValidateFails(t *testing.T) {
	base := func() *Config {
		cfg := defaultConfig()
		cfg.Dispatcher.DatabaseURL = "postgres://localhost/hook0"
		cfg.Dispatcher.WorkerID = "worker-1"
		return cfg
	}

	cfg := base()
	cfg.Dispatcher.DatabaseURL = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for missing database_url")
	}

	cfg = base()
	cfg.Dispatcher.Scope = "weird"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid scope")
	}

	cfg = base()
	cfg.Dispatcher.Concurrent = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for concurrent < 1")
	}

	cfg = base()
	cfg.Dispatcher.Concurrent = 101
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for concurrent > 100")
	}

	cfg = base()
	cfg.Dispatcher.OrphanReclaimHorizon = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for zero orphan_reclaim_horizon_s")
	}
}

func TestValidatePasses(t *testing.T) {
	cfg := defaultConfig()
	cfg.Dispatcher.DatabaseURL = "postgres://localhost/hook0"
	cfg.Dispatcher.WorkerID = "worker-1"
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}
