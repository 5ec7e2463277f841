package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"jobsieve/internal/core/config"
	"jobsieve/internal/core/domain"
	"jobsieve/internal/core/status"
)

var (
	requeueFrom  string
	dropAnalysis bool
)

var requeueCmd = &cobra.Command{
	Use:   "requeue [id...]",
	Short: "Reset parked postings to new for re-evaluation",
	Long: `Requeue moves skipped or failed postings back to new so the running
service picks them up again. Without ids every posting in the selected
status is reset. With --drop-analysis the stored verdict is deleted
first, which lets a posting through the already-analyzed guard after a
threshold or profile change.`,
	Run: runRequeue,
}

func init() {
	requeueCmd.Flags().StringVar(&requeueFrom, "status", "skipped", "status to reset: skipped or failed")
	requeueCmd.Flags().BoolVar(&dropAnalysis, "drop-analysis", false, "delete stored analyses for the selected postings")
	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, args []string) {
	target := domain.Status(requeueFrom)
	if !target.IsRecoverable() {
		slog.Error("status must be skipped or failed", "status", requeueFrom)
		os.Exit(1)
	}

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

	var postings []*domain.Posting
	if len(args) > 0 {
		for _, id := range args {
			p, err := store.Postings.FindByID(ctx, id)
			if err != nil {
				slog.Error("failed to load posting", "posting_id", id, "error", err)
				os.Exit(1)
			}
			if p == nil {
				slog.Warn("posting not found", "posting_id", id)
				continue
			}
			postings = append(postings, p)
		}
	} else {
		postings, err = store.Postings.FindByStatus(ctx, target)
		if err != nil {
			slog.Error("failed to list postings", "status", requeueFrom, "error", err)
			os.Exit(1)
		}
	}

	// The transition table rejects resets out of statuses an operator
	// should not touch, so explicit ids fail loudly instead of silently
	// rewinding a delivered posting.
	mgr := status.NewManager(store.Postings, slog.Default())
	reset := 0
	for _, p := range postings {
		if dropAnalysis {
			if err := store.Analyses.Delete(ctx, p.ID); err != nil {
				slog.Warn("failed to drop analysis", "posting_id", p.ID, "error", err)
				continue
			}
		}
		if err := mgr.Update(ctx, p.ID, domain.StatusNew, "operator requeue"); err != nil {
			slog.Warn("failed to reset posting", "posting_id", p.ID, "error", err)
			continue
		}
		reset++
	}

	fmt.Printf("Reset %d of %d postings to new\n", reset, len(postings))
}
