package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/delsolprime/backoffice/internal/bulk"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/worker"
)

var (
	bulkIDsFile string
	bulkResume  bool
)

var bulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Run administrative bulk operations",
}

var bulkRunCmd = &cobra.Command{
	Use:   "run <operation>",
	Short: "Run a bulk operation in the foreground",
	Long: `Run executes one bulk operation with rate limiting and checkpointing.
Interrupting it keeps the checkpoint so the run can be resumed.

Operations: ` + operationList() + `

Example:
  backoffice bulk run refresh_all_citations
  backoffice bulk run fix_images --ids-file articles.txt
  backoffice bulk run refresh_all_citations --resume`,
	Args: cobra.ExactArgs(1),
	RunE: runBulk,
}

var bulkCheckpointCmd = &cobra.Command{
	Use:   "checkpoint <operation>",
	Short: "Show the saved checkpoint of an interrupted operation",
	Args:  cobra.ExactArgs(1),
	RunE:  runBulkCheckpoint,
}

func init() {
	rootCmd.AddCommand(bulkCmd)
	bulkCmd.AddCommand(bulkRunCmd)
	bulkCmd.AddCommand(bulkCheckpointCmd)

	bulkRunCmd.Flags().StringVar(&bulkIDsFile, "ids-file", "", "file with one item id per line (default: every eligible item)")
	bulkRunCmd.Flags().BoolVar(&bulkResume, "resume", false, "continue from the saved checkpoint")
}

func operationList() string {
	names := make([]string, len(model.OperationTypes))
	for i, t := range model.OperationTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func parseOperation(s string) (model.OperationType, error) {
	t := model.OperationType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown operation %q (want one of %s)", s, operationList())
	}
	return t, nil
}

func runBulk(cmd *cobra.Command, args []string) error {
	t, err := parseOperation(args[0])
	if err != nil {
		return err
	}
	opts := bulk.RunOptions{Resume: bulkResume}
	if bulkIDsFile != "" {
		if opts.IDs, err = worker.ReadIDsFromFile(bulkIDsFile); err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.bulk.Registered(t) {
		return fmt.Errorf("operation %s is not available with the current configuration", t)
	}

	printBanner("Bulk Operation: " + string(t))
	printField("Items", itemsLabel(opts))
	printField("Resume", opts.Resume)
	printField("Concurrency", cfg.Bulk.Concurrency)
	printField("Rate", fmt.Sprintf("%.1f req/s", cfg.Bulk.RequestsPerSecond))
	fmt.Fprintln(os.Stderr)

	res, err := a.bulk.Run(ctx, t, opts)
	if err != nil {
		return fmt.Errorf("bulk run failed: %w", err)
	}

	for _, e := range res.Errors {
		printFailure("%s: %s\n", e.ID, e.Error)
	}
	fmt.Fprintln(os.Stderr)
	printField("Succeeded", res.Success)
	printField("Failed", res.Failed)
	if res.Skipped > 0 {
		printField("Skipped", res.Skipped)
	}
	if ctx.Err() != nil {
		printWarning("interrupted; rerun with --resume to continue\n")
		return ctx.Err()
	}
	if res.Failed > 0 {
		printWarning("%d item(s) failed\n", res.Failed)
		return nil
	}
	printSuccess("completed %s\n", t)
	return nil
}

func itemsLabel(opts bulk.RunOptions) string {
	switch {
	case opts.Resume:
		return "from checkpoint"
	case len(opts.IDs) > 0:
		return fmt.Sprintf("%d from %s", len(opts.IDs), bulkIDsFile)
	default:
		return "all eligible"
	}
}

func runBulkCheckpoint(cmd *cobra.Command, args []string) error {
	t, err := parseOperation(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	cp, err := a.bulk.PendingCheckpoint(ctx, t)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if cp == nil {
		printSuccess("no pending checkpoint for %s\n", t)
		return nil
	}

	printBanner("Checkpoint: " + string(t))
	printField("Operation", cp.OperationID)
	printField("Progress", fmt.Sprintf("%d/%d", cp.NextIndex, len(cp.ItemIDs)))
	printField("Succeeded", cp.Succeeded)
	printField("Failed", cp.Failed)
	printField("Updated", cp.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}
