package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/liliang-cn/vecalign/internal/config"
	"github.com/liliang-cn/vecalign/pkg/align"
	"github.com/liliang-cn/vecalign/pkg/eval"
	"github.com/liliang-cn/vecalign/pkg/matrixio"
	"github.com/liliang-cn/vecalign/pkg/runs"
	"github.com/liliang-cn/vecalign/pkg/space"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

var alignCmd = &cobra.Command{
	Use:   "align",
	Short: "Learn an alignment matrix with Procrustes and RCSLS",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := appCfg
		if cfg.Data.Source == "" || cfg.Data.Target == "" {
			return fmt.Errorf("both --src-emb and --tgt-emb are required")
		}

		src, tgt, err := loadSpaces(ctx, cfg)
		if err != nil {
			return err
		}

		pairs, err := trainingPairs(cfg, src, tgt)
		if err != nil {
			return err
		}

		var lex *space.Lexicon
		if cfg.Data.Test != "" {
			if lex, err = space.LoadLexicon(cfg.Data.Test, src, tgt); err != nil {
				return fmt.Errorf("failed to load evaluation lexicon: %w", err)
			}
			logger.Info("evaluation lexicon loaded", "entries", lex.Len(), "size", lex.Size)
		}

		progress := func(p align.Progress) {
			kv := []any{"it", p.Iteration, "f", p.Objective, "lr", p.LR}
			if lex != nil {
				if score, err := scoreNN(src, tgt, p.R, lex); err == nil {
					kv = append(kv, "nn_acc", score.Accuracy)
				}
			}
			logger.Info("progress", kv...)
		}

		res, err := align.AlignSpaces(ctx, src, tgt, pairs, cfg.Align,
			align.WithLogger(logger), align.WithProgress(progress))
		if err != nil {
			return fmt.Errorf("alignment failed: %w", err)
		}

		run := runs.FromResult(cfg.Data.Source, cfg.Data.Target, cfg.Align, res)
		run.Metrics["pairs"] = float64(len(pairs))

		mapped, err := align.ApplySpace(src, res.R, true)
		if err != nil {
			return err
		}
		if lex != nil {
			nn, err := eval.NNAccuracy(mapped.Vectors, tgt.Vectors, lex)
			if err != nil {
				return err
			}
			csls, err := eval.CSLSAccuracy(mapped.Vectors, tgt.Vectors, lex, cfg.Align.KNN)
			if err != nil {
				return err
			}
			run.Metrics["nn_acc"] = nn.Accuracy
			run.Metrics["csls_acc"] = csls.Accuracy
			run.Metrics["coverage"] = nn.Coverage
			logger.Info("evaluation", "nn", nn.String(), "csls", csls.String())
		}

		if cfg.Data.Output != "" {
			full, err := fullSource(cfg, src)
			if err != nil {
				return err
			}
			out, err := align.ApplySpace(full, res.R, true)
			if err != nil {
				return err
			}
			if err := space.Save(cfg.Data.Output, out); err != nil {
				return fmt.Errorf("failed to save aligned vectors: %w", err)
			}
			logger.Info("aligned vectors saved", "path", cfg.Data.Output, "count", out.Len())
		}
		if cfg.Data.Matrix != "" {
			if err := matrixio.Save(cfg.Data.Matrix, res.R); err != nil {
				return fmt.Errorf("failed to save matrix: %w", err)
			}
			logger.Info("matrix saved", "path", cfg.Data.Matrix, "format", matrixio.FormatFor(cfg.Data.Matrix))
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
			if err := store.Record(ctx, run); err != nil {
				return err
			}
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		return printRun(run, asJSON)
	},
}

// loadSpaces reads the source and target files concurrently.
func loadSpaces(ctx context.Context, cfg *config.AppConfig) (*space.Space, *space.Space, error) {
	var src, tgt *space.Space
	opts := cfg.Load.Options()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		src, err = space.Load(cfg.Data.Source, opts)
		return err
	})
	g.Go(func() error {
		var err error
		tgt, err = space.Load(cfg.Data.Target, opts)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("failed to load vectors: %w", err)
	}

	logger.Info("vectors loaded", "source", src.Len(), "target", tgt.Len(), "dim", src.Dim())
	return src, tgt, nil
}

// fullSource returns the whole source vocabulary, reloading the file when
// maxload may have cut it short.
func fullSource(cfg *config.AppConfig, src *space.Space) (*space.Space, error) {
	opts := cfg.Load.Options()
	if opts.MaxLoad <= 0 || src.Len() < opts.MaxLoad {
		return src, nil
	}
	opts.MaxLoad = 0
	full, err := space.Load(cfg.Data.Source, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to reload source vectors: %w", err)
	}
	logger.Info("source reloaded for output", "count", full.Len())
	return full, nil
}

func trainingPairs(cfg *config.AppConfig, src, tgt *space.Space) (space.Pairs, error) {
	var pairs space.Pairs
	if cfg.Data.Train == "" {
		pairs = space.AnchorPairs(src, tgt)
		logger.Info("using identical tokens as anchors", "pairs", len(pairs))
	} else {
		var stats space.PairStats
		var err error
		if pairs, stats, err = space.LoadPairs(cfg.Data.Train, src, tgt); err != nil {
			return nil, fmt.Errorf("failed to load training lexicon: %w", err)
		}
		if stats.Found < stats.Total {
			logger.Warn("training pairs out of vocabulary", "kept", stats.Found, "lines", stats.Total)
		}
	}
	return pairs.Truncate(cfg.Data.MaxSup), nil
}

func scoreNN(src, tgt *space.Space, r *mat.Dense, lex *space.Lexicon) (eval.Score, error) {
	mapped, err := align.Apply(src.Vectors, r, false)
	if err != nil {
		return eval.Score{}, err
	}
	return eval.NNAccuracy(mapped, tgt.Vectors, lex)
}

func printRun(run *runs.Run, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		summary := *run
		summary.Steps = nil
		return enc.Encode(summary)
	}

	fmt.Printf("Run %s\n", run.ID)
	fmt.Printf("  state:      %s after %d iterations\n", run.State, run.Iterations)
	fmt.Printf("  objective:  %.6f\n", run.Objective)
	fmt.Printf("  final lr:   %g\n", run.LR)
	for _, k := range []string{"pairs", "nn_acc", "csls_acc", "coverage"} {
		if v, ok := run.Metrics[k]; ok {
			fmt.Printf("  %-10s  %.4f\n", k+":", v)
		}
	}
	return nil
}

func init() {
	addDataFlags(alignCmd.Flags())
	addAlignFlags(alignCmd.Flags())
	alignCmd.Flags().Bool("json", false, "Output as JSON")
}
