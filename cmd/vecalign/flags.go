package main

import (
	"github.com/liliang-cn/vecalign/internal/config"
	"github.com/liliang-cn/vecalign/pkg/align"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Flags registered by the commands that read vectors or run the optimizer.
// Only flags the user actually set override the config file.

func addDataFlags(fs *pflag.FlagSet) {
	fs.String("src-emb", "", "Source vector file")
	fs.String("tgt-emb", "", "Target vector file")
	fs.String("dico-test", "", "Evaluation lexicon")
	fs.Int("maxload", 200000, "Maximum number of vectors loaded per space (<=0 loads all)")
	fs.Bool("center", false, "Center vectors before renormalising")
}

func addAlignFlags(fs *pflag.FlagSet) {
	defaults := align.DefaultConfig()
	fs.String("dico-train", "", "Training lexicon (identical tokens are used when empty)")
	fs.String("output", "", "Aligned source vector file")
	fs.String("matrix", "", "Alignment matrix file (.npy or text)")
	fs.Int("maxsup", -1, "Maximum number of training pairs (<=0 keeps all)")
	fs.Int("knn", defaults.KNN, "Number of nearest neighbors in RCSLS and CSLS")
	fs.Int("maxneg", defaults.MaxNeg, "Maximum number of negatives per side")
	fs.String("model", defaults.Model.String(), "Constraint on the matrix: none or spectral")
	fs.Float64("reg", defaults.Reg, "Weight decay")
	fs.Float64("lr", defaults.LR, "Initial learning rate")
	fs.Int("niter", defaults.NIter, "Number of iterations")
	fs.Bool("sgd", defaults.SGD, "Use mini-batches instead of the full pair set")
	fs.Int("batchsize", defaults.BatchSize, "Mini-batch size")
	fs.Uint64("seed", defaults.Seed, "Mini-batch sampling seed")
	fs.Int("eval-every", defaults.EvalEvery, "Report progress every n iterations")
}

// applyFlags copies every explicitly set flag of cmd into cfg.
func applyFlags(cmd *cobra.Command, cfg *config.AppConfig) error {
	fs := cmd.Flags()
	changed := func(name string) bool {
		f := fs.Lookup(name)
		return f != nil && f.Changed
	}

	strs := map[string]*string{
		"src-emb":    &cfg.Data.Source,
		"tgt-emb":    &cfg.Data.Target,
		"dico-train": &cfg.Data.Train,
		"dico-test":  &cfg.Data.Test,
		"output":     &cfg.Data.Output,
		"matrix":     &cfg.Data.Matrix,
		"db":         &cfg.Store.Path,
	}
	for name, dst := range strs {
		if changed(name) {
			v, err := fs.GetString(name)
			if err != nil {
				return err
			}
			*dst = v
		}
	}

	ints := map[string]*int{
		"maxsup":     &cfg.Data.MaxSup,
		"maxload":    &cfg.Load.MaxLoad,
		"knn":        &cfg.Align.KNN,
		"maxneg":     &cfg.Align.MaxNeg,
		"niter":      &cfg.Align.NIter,
		"batchsize":  &cfg.Align.BatchSize,
		"eval-every": &cfg.Align.EvalEvery,
	}
	for name, dst := range ints {
		if changed(name) {
			v, err := fs.GetInt(name)
			if err != nil {
				return err
			}
			*dst = v
		}
	}

	floats := map[string]*float64{
		"reg": &cfg.Align.Reg,
		"lr":  &cfg.Align.LR,
	}
	for name, dst := range floats {
		if changed(name) {
			v, err := fs.GetFloat64(name)
			if err != nil {
				return err
			}
			*dst = v
		}
	}

	bools := map[string]*bool{
		"center":   &cfg.Load.Center,
		"sgd":      &cfg.Align.SGD,
		"no-store": &cfg.Store.Disabled,
	}
	for name, dst := range bools {
		if changed(name) {
			v, err := fs.GetBool(name)
			if err != nil {
				return err
			}
			*dst = v
		}
	}

	if changed("model") {
		v, _ := fs.GetString("model")
		m, err := align.ParseConstraint(v)
		if err != nil {
			return err
		}
		cfg.Align.Model = m
	}
	if changed("seed") {
		v, err := fs.GetUint64("seed")
		if err != nil {
			return err
		}
		cfg.Align.Seed = v
	}
	return nil
}
