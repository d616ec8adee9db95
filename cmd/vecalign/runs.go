package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/liliang-cn/vecalign/pkg/runs"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded alignment runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := requireStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		list, err := store.List(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}

		if len(list) == 0 {
			fmt.Println("No runs recorded")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tMODEL\tITER\tSTATE\tNN\tCSLS")
		for _, run := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				run.ID[:8], run.CreatedAt.Local().Format("2006-01-02 15:04"), run.Config.Model,
				run.Iterations, run.State, metric(run, "nn_acc"), metric(run, "csls_acc"))
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one run; any unique ID prefix works",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := requireStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := lookupRun(cmd, store, args[0])
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		}

		fmt.Printf("Run %s (%s)\n", run.ID, run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("  %s -> %s\n", run.Source, run.Target)
		c := run.Config
		fmt.Printf("  knn=%d maxneg=%d model=%s reg=%g lr=%g niter=%d sgd=%t batchsize=%d seed=%d\n",
			c.KNN, c.MaxNeg, c.Model, c.Reg, c.LR, c.NIter, c.SGD, c.BatchSize, c.Seed)
		fmt.Printf("  state %s after %d iterations, objective %.6f, lr %g\n",
			run.State, run.Iterations, run.Objective, run.LR)

		keys := make([]string, 0, len(run.Metrics))
		for k := range run.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s: %.4f\n", k, run.Metrics[k])
		}

		if steps, _ := cmd.Flags().GetBool("steps"); steps {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "IT\tF\tBEST\tLR\tACCEPTED")
			for _, st := range run.Steps {
				fmt.Fprintf(w, "%d\t%.6f\t%.6f\t%g\t%t\n", st.Iteration, st.Objective, st.Best, st.LR, st.Accepted)
			}
			return w.Flush()
		}
		return nil
	},
}

var runsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every run as CSV or JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := requireStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")

		w := os.Stdout
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return store.Export(cmd.Context(), w, runs.ExportFormat(format))
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := requireStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := lookupRun(cmd, store, args[0])
		if err != nil {
			return err
		}
		if err := store.Delete(cmd.Context(), run.ID); err != nil {
			return err
		}
		fmt.Printf("Run %s deleted\n", run.ID)
		return nil
	},
}

func requireStore(cmd *cobra.Command) (*runs.Store, error) {
	store, err := openStore(cmd.Context())
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("the run store is disabled")
	}
	return store, nil
}

func lookupRun(cmd *cobra.Command, store *runs.Store, id string) (*runs.Run, error) {
	run, err := store.Get(cmd.Context(), id)
	if runs.IsNotFound(err) {
		return nil, fmt.Errorf("no recorded run matches %q", id)
	}
	return run, err
}

func metric(run *runs.Run, key string) string {
	v, ok := run.Metrics[key]
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}

func init() {
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsExportCmd, runsDeleteCmd)

	runsListCmd.Flags().Int("limit", 20, "Maximum number of runs (0 lists all)")
	runsListCmd.Flags().Bool("json", false, "Output as JSON")

	runsShowCmd.Flags().Bool("json", false, "Output as JSON")
	runsShowCmd.Flags().Bool("steps", false, "Print the iteration history")

	runsExportCmd.Flags().String("format", "csv", "Export format (csv/jsonl)")
	runsExportCmd.Flags().String("out", "", "Output file (default stdout)")
}
