package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/liliang-cn/vecalign/pkg/align"
	"github.com/liliang-cn/vecalign/pkg/eval"
	"github.com/liliang-cn/vecalign/pkg/matrixio"
	"github.com/spf13/cobra"
)

type translation struct {
	Word       string      `json:"word"`
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Word  string  `json:"word"`
	Score float64 `json:"score"`
}

var translateCmd = &cobra.Command{
	Use:   "translate [words...]",
	Short: "Look up the nearest target words of source words",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := appCfg
		if cfg.Data.Source == "" || cfg.Data.Target == "" {
			return fmt.Errorf("--src-emb and --tgt-emb are required")
		}

		src, tgt, err := loadSpaces(ctx, cfg)
		if err != nil {
			return err
		}
		if matrixPath, _ := cmd.Flags().GetString("matrix"); matrixPath != "" {
			r, err := matrixio.Load(matrixPath)
			if err != nil {
				return fmt.Errorf("failed to load matrix: %w", err)
			}
			if src, err = align.ApplySpace(src, r, true); err != nil {
				return err
			}
		}

		var words []string
		var rows []int
		for _, w := range args {
			i, ok := src.Index(w)
			if !ok {
				logger.Warn("word not in source vocabulary", "word", w)
				continue
			}
			words = append(words, w)
			rows = append(rows, i)
		}
		if len(rows) == 0 {
			return fmt.Errorf("none of the words are in the source vocabulary")
		}

		k, _ := cmd.Flags().GetInt("top")
		csls, _ := cmd.Flags().GetInt("csls")
		hits, err := eval.Translate(src.Vectors, tgt.Vectors, rows, k, csls)
		if err != nil {
			return err
		}

		out := make([]translation, len(words))
		for i, w := range words {
			out[i] = translation{Word: w, Candidates: make([]candidate, len(hits[i]))}
			for j, h := range hits[i] {
				out[i].Candidates[j] = candidate{Word: tgt.Words[h.Row], Score: h.Score}
			}
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		for _, tr := range out {
			fmt.Printf("%s:\n", tr.Word)
			for j, c := range tr.Candidates {
				fmt.Printf("  %d. %s (%.4f)\n", j+1, c.Word, c.Score)
			}
		}
		return nil
	},
}

func init() {
	fs := translateCmd.Flags()
	fs.String("src-emb", "", "Source vector file")
	fs.String("tgt-emb", "", "Target vector file")
	fs.Int("maxload", 200000, "Maximum number of vectors loaded (<=0 loads all)")
	fs.Bool("center", false, "Center vectors before renormalising")
	fs.String("matrix", "", "Map the source vectors through this matrix first")
	fs.IntP("top", "k", 5, "Number of candidates per word")
	fs.Int("csls", 0, "Rank by CSLS with this neighborhood size (0 ranks by cosine)")
	fs.Bool("json", false, "Output as JSON")
}
