package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/delsolprime/backoffice/internal/crm"
)

var (
	sweepClaims    bool
	sweepContacts  bool
	sweepReminders string
	sweepTimeout   time.Duration
)

var crmCmd = &cobra.Command{
	Use:   "crm",
	Short: "Lead CRM maintenance jobs",
}

var crmSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Escalate breached claim/contact windows and send agent reminders",
	Long: `Sweep runs the scheduled CRM jobs once. With no flag every job runs,
which is what a cron entry normally wants.

Example:
  backoffice crm sweep
  backoffice crm sweep --claims
  backoffice crm sweep --reminders 10min`,
	RunE: runCRMSweep,
}

func init() {
	rootCmd.AddCommand(crmCmd)
	crmCmd.AddCommand(crmSweepCmd)

	crmSweepCmd.Flags().BoolVar(&sweepClaims, "claims", false, "escalate leads whose claim window expired")
	crmSweepCmd.Flags().BoolVar(&sweepContacts, "contacts", false, "escalate claimed leads not contacted in time")
	crmSweepCmd.Flags().StringVar(&sweepReminders, "reminders", "", "send reminder emails for a window (1hour, 10min or all)")
	crmSweepCmd.Flags().DurationVar(&sweepTimeout, "timeout", 5*time.Minute, "overall timeout")
}

func runCRMSweep(cmd *cobra.Command, args []string) error {
	all := !sweepClaims && !sweepContacts && sweepReminders == ""
	var windows []crm.ReminderWindow
	switch sweepReminders {
	case "", "all":
	case string(crm.WindowHour), string(crm.WindowTenMinutes):
		windows = []crm.ReminderWindow{crm.ReminderWindow(sweepReminders)}
	default:
		return fmt.Errorf("unknown reminder window %q (want 1hour, 10min or all)", sweepReminders)
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

	ctx, cancel := context.WithTimeout(cmd.Context(), sweepTimeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	printBanner("CRM Sweep")
	var failed bool

	if all || sweepClaims {
		res, err := a.crm.CheckClaimWindows(ctx)
		failed = reportSweep("Claim windows", res, err) || failed
	}
	if all || sweepContacts {
		res, err := a.crm.CheckContactWindows(ctx)
		failed = reportSweep("Contact windows", res, err) || failed
	}
	if all || sweepReminders != "" {
		res, err := a.crm.SendReminders(ctx, windows...)
		if err != nil {
			printFailure("Reminders: %v\n", err)
			failed = true
		} else {
			printField("Reminders", fmt.Sprintf("%d sent, %d failed", res.TotalSent, res.TotalFailed))
			failed = failed || res.TotalFailed > 0
		}
	}

	if failed {
		return fmt.Errorf("sweep finished with errors")
	}
	printSuccess("sweep complete\n")
	return nil
}

// reportSweep prints one escalation result and reports whether it failed
func reportSweep(label string, res *crm.SweepResult, err error) bool {
	if err != nil {
		printFailure("%s: %v\n", label, err)
		return true
	}
	printField(label, fmt.Sprintf("%d/%d escalated, %d errors", res.Processed, res.Total, res.Errors))
	return res.Errors > 0
}
