package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/liliang-cn/vecalign/pkg/align"
	"github.com/liliang-cn/vecalign/pkg/eval"
	"github.com/liliang-cn/vecalign/pkg/matrixio"
	"github.com/liliang-cn/vecalign/pkg/space"
	"github.com/spf13/cobra"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate word translation between two aligned spaces",
	Long: `Scores NN and CSLS retrieval of the evaluation lexicon. The source vectors
are taken as already aligned unless --matrix is given, in which case they
are mapped through it first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := appCfg
		if cfg.Data.Source == "" || cfg.Data.Target == "" || cfg.Data.Test == "" {
			return fmt.Errorf("--src-emb, --tgt-emb and --dico-test are required")
		}

		src, tgt, err := loadSpaces(ctx, cfg)
		if err != nil {
			return err
		}

		matrixPath, _ := cmd.Flags().GetString("matrix")
		if matrixPath != "" {
			r, err := matrixio.Load(matrixPath)
			if err != nil {
				return fmt.Errorf("failed to load matrix: %w", err)
			}
			if src, err = align.ApplySpace(src, r, true); err != nil {
				return err
			}
			logger.Info("source mapped through matrix", "path", matrixPath)
		}

		lex, err := space.LoadLexicon(cfg.Data.Test, src, tgt)
		if err != nil {
			return fmt.Errorf("failed to load evaluation lexicon: %w", err)
		}

		nn, err := eval.NNAccuracy(src.Vectors, tgt.Vectors, lex)
		if err != nil {
			return err
		}
		knn, _ := cmd.Flags().GetInt("knn")
		csls, err := eval.CSLSAccuracy(src.Vectors, tgt.Vectors, lex, knn)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]eval.Score{"nn": nn, "csls": csls})
		}

		fmt.Printf("Coverage: %.4f (%d of %d source words)\n", nn.Coverage, nn.Seen, nn.Total)
		fmt.Printf("NN:       %.4f\n", nn.Accuracy)
		fmt.Printf("CSLS:     %.4f (k=%d)\n", csls.Accuracy, knn)
		return nil
	},
}

func init() {
	addDataFlags(evalCmd.Flags())
	evalCmd.Flags().String("matrix", "", "Map the source vectors through this matrix first")
	evalCmd.Flags().Int("knn", align.DefaultConfig().KNN, "Neighborhood size of CSLS")
	evalCmd.Flags().Bool("json", false, "Output as JSON")
}
