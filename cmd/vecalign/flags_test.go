package main

import (
	"testing"

	"github.com/liliang-cn/vecalign/internal/config"
	"github.com/liliang-cn/vecalign/pkg/align"
	"github.com/spf13/cobra"
)

func TestApplyFlagsOnlyChanged(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	addDataFlags(cmd.Flags())
	addAlignFlags(cmd.Flags())

	if err := cmd.ParseFlags([]string{"--niter", "5", "--model", "spectral", "--src-emb", "a.vec", "--sgd", "--seed", "9"}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}

	cfg := config.Default()
	cfg.Align.KNN = 3 // from a config file; the flag default must not reset it
	if err := applyFlags(cmd, cfg); err != nil {
		t.Fatalf("applyFlags failed: %v", err)
	}

	if cfg.Align.NIter != 5 || cfg.Align.Model != align.ConstraintSpectral || !cfg.Align.SGD || cfg.Align.Seed != 9 {
		t.Errorf("Flags not applied: %+v", cfg.Align)
	}
	if cfg.Data.Source != "a.vec" {
		t.Errorf("Expected src-emb a.vec, got %q", cfg.Data.Source)
	}
	if cfg.Align.KNN != 3 {
		t.Errorf("Unset flag overrode config: knn=%d", cfg.Align.KNN)
	}
}

func TestApplyFlagsBadModel(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	addAlignFlags(cmd.Flags())
	if err := cmd.ParseFlags([]string{"--model", "orthogonal"}); err != nil {
		t.Fatal(err)
	}
	if err := applyFlags(cmd, config.Default()); err == nil {
		t.Error("Expected error for unknown model")
	}
}
