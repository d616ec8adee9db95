package main

import (
	"fmt"

	"github.com/liliang-cn/vecalign/pkg/align"
	"github.com/liliang-cn/vecalign/pkg/matrixio"
	"github.com/liliang-cn/vecalign/pkg/space"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Map a vector file through a learned matrix",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appCfg
		if cfg.Data.Source == "" || cfg.Data.Matrix == "" || cfg.Data.Output == "" {
			return fmt.Errorf("--src-emb, --matrix and --output are required")
		}

		opts := cfg.Load.Options()
		if !cmd.Flags().Changed("maxload") {
			opts.MaxLoad = 0
		}
		src, err := space.Load(cfg.Data.Source, opts)
		if err != nil {
			return fmt.Errorf("failed to load vectors: %w", err)
		}
		r, err := matrixio.Load(cfg.Data.Matrix)
		if err != nil {
			return fmt.Errorf("failed to load matrix: %w", err)
		}

		raw, _ := cmd.Flags().GetBool("raw")
		mapped, err := align.ApplySpace(src, r, !raw)
		if err != nil {
			return err
		}
		if err := space.Save(cfg.Data.Output, mapped); err != nil {
			return fmt.Errorf("failed to save vectors: %w", err)
		}

		fmt.Printf("Mapped %d vectors into %s\n", mapped.Len(), cfg.Data.Output)
		return nil
	},
}

func init() {
	fs := applyCmd.Flags()
	fs.String("src-emb", "", "Vector file to map")
	fs.String("matrix", "", "Alignment matrix file (.npy or text)")
	fs.String("output", "", "Output vector file")
	fs.Int("maxload", 0, "Maximum number of vectors mapped (<=0 maps all)")
	fs.Bool("center", false, "Center vectors before renormalising")
	fs.Bool("raw", false, "Do not renormalise mapped vectors")
}
