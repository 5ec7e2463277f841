package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"jobsieve/internal/core/config"
	"jobsieve/internal/core/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show posting counts per lifecycle status",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect to store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	counts, err := store.Postings.CountByStatus(ctx)
	if err != nil {
		slog.Error("failed to count postings", "error", err)
		os.Exit(1)
	}
	analyzed, err := store.Analyses.ListPostingIDs(ctx)
	if err != nil {
		slog.Error("failed to count analyses", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STATUS\tCOUNT")

	total := 0
	for _, st := range domain.AllStatuses {
		total += counts[st]
		_, _ = fmt.Fprintf(w, "%s\t%d\n", st, counts[st])
	}
	_, _ = fmt.Fprintf(w, "total\t%d\n", total)
	_, _ = fmt.Fprintf(w, "analyzed\t%d\n", len(analyzed))
	_ = w.Flush()
}
