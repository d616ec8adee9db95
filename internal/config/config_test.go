package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/liliang-cn/vecalign/pkg/align"
	"github.com/liliang-cn/vecalign/pkg/core"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Align != align.DefaultConfig() {
		t.Errorf("Expected default align config, got %+v", cfg.Align)
	}
	if cfg.Load.MaxLoad != 200000 || !cfg.Load.Normalize || cfg.Load.Center {
		t.Errorf("Unexpected load defaults %+v", cfg.Load)
	}
	if cfg.Data.MaxSup != -1 {
		t.Errorf("Expected maxsup -1, got %d", cfg.Data.MaxSup)
	}
	if cfg.Data.Output != "" || cfg.Data.Matrix != "" {
		t.Errorf("Outputs must be opt-in, got output=%q matrix=%q", cfg.Data.Output, cfg.Data.Matrix)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
data:
  src_emb: wiki.en.vec
  tgt_emb: wiki.es.vec
  maxsup: 5000
load:
  center: true
align:
  model: spectral
  niter: 20
  lr: 25
store:
  path: runs.db
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Data.Source != "wiki.en.vec" || cfg.Data.Target != "wiki.es.vec" || cfg.Data.MaxSup != 5000 {
		t.Errorf("Unexpected data section %+v", cfg.Data)
	}
	if !cfg.Load.Center || !cfg.Load.Normalize || cfg.Load.MaxLoad != 200000 {
		t.Errorf("Unset load fields should keep defaults, got %+v", cfg.Load)
	}
	if cfg.Align.Model != align.ConstraintSpectral || cfg.Align.NIter != 20 || cfg.Align.LR != 25 {
		t.Errorf("Unexpected align section %+v", cfg.Align)
	}
	if cfg.Align.KNN != 10 || cfg.Align.MaxNeg != 200000 {
		t.Errorf("Unset align fields should keep defaults, got %+v", cfg.Align)
	}
	if cfg.Store.Path != "runs.db" || cfg.Log.Level != "debug" {
		t.Errorf("Unexpected store/log %+v %+v", cfg.Store, cfg.Log)
	}
}

func TestLoadRejectsBadModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("align:\n  model: orthogonal\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Align.Model = align.ConstraintSpectral
	cfg.Align.Seed = 42
	cfg.Data.Test = "test.txt"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if *back != *cfg {
		t.Errorf("Round trip changed config\ngot  %+v\nwant %+v", back, cfg)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"VECALIGN_SRC_EMB":   "src.vec",
		"VECALIGN_NITER":     "3",
		"VECALIGN_LR":        "0.5",
		"VECALIGN_SGD":       "true",
		"VECALIGN_MODEL":     "spectral",
		"VECALIGN_SEED":      "7",
		"VECALIGN_CENTER":    "1",
		"VECALIGN_LOG_LEVEL": "warn",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := ApplyEnv(cfg, lookup); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if cfg.Data.Source != "src.vec" || cfg.Align.NIter != 3 || cfg.Align.LR != 0.5 {
		t.Errorf("Overrides not applied: %+v %+v", cfg.Data, cfg.Align)
	}
	if !cfg.Align.SGD || cfg.Align.Model != align.ConstraintSpectral || cfg.Align.Seed != 7 {
		t.Errorf("Overrides not applied: %+v", cfg.Align)
	}
	if !cfg.Load.Center || cfg.Log.Level != "warn" {
		t.Errorf("Overrides not applied: %+v %+v", cfg.Load, cfg.Log)
	}
	if cfg.Align.KNN != 10 {
		t.Error("Variables that are not set must not change the config")
	}
}

func TestApplyEnvErrors(t *testing.T) {
	env := map[string]string{
		"VECALIGN_NITER": "ten",
		"VECALIGN_MODEL": "orthogonal",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	err := ApplyEnv(Default(), lookup)
	if !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}
	t.Logf("error: %v", err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()

	if err := LoadDotEnv(filepath.Join(dir, ".env")); err != nil {
		t.Errorf("Missing .env should be ignored, got %v", err)
	}

	const key = "VECALIGN_TEST_DOTENV_VALUE"
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("Expected value from .env, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	if err := cfg.Validate(); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for log level, got %v", err)
	}

	cfg = Default()
	cfg.Store.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for empty store path")
	}
	cfg.Store.Disabled = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("Disabled store needs no path, got %v", err)
	}

	cfg = Default()
	cfg.Align.KNN = 0
	if err := cfg.Validate(); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for knn, got %v", err)
	}
}
