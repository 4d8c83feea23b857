package config

import "testing"

func TestDefaultHasSaneBranchDepth(t *testing.T) {
	cfg := Default()
	if cfg.MaxBranchDepth != 4 {
		t.Fatalf("expected default MaxBranchDepth 4, got %d", cfg.MaxBranchDepth)
	}
	if cfg.RetrySweepInterval <= 0 {
		t.Fatalf("expected positive retry sweep interval")
	}
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	t.Setenv("FLOWENGINE_ENV", "bogus")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid FLOWENGINE_ENV")
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	t.Setenv("FLOWENGINE_ENV", "testing")
	t.Setenv("FLOWENGINE_MAX_BRANCH_DEPTH", "7")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxBranchDepth != 7 {
		t.Fatalf("expected override to apply, got %d", cfg.MaxBranchDepth)
	}
	if cfg.Env != Testing {
		t.Fatalf("expected Testing environment, got %s", cfg.Env)
	}
}
