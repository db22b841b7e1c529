package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/audit"
	"github.com/delsolprime/backoffice/internal/citations"
	"github.com/delsolprime/backoffice/internal/hreflang"
	"github.com/delsolprime/backoffice/internal/sitemap"
	"github.com/delsolprime/backoffice/internal/util"
	"github.com/delsolprime/backoffice/internal/worker"
)

var (
	auditSitemap     string
	auditOut         string
	auditTimeout     time.Duration
	auditMaxPages    int
	auditMaxDepth    int
	auditParallelism int
	auditNoExternal  bool
	auditContentType string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit the public site",
}

var auditLinksCmd = &cobra.Command{
	Use:   "links [url...]",
	Short: "Crawl the site and report broken links",
	Long: `Links crawls pages on the seed hosts, honoring robots.txt, and reports
internal links that fail. External links found on the way are probed once
with the citation health checker.

Example:
  backoffice audit links https://www.delsolprimehomes.com/
  backoffice audit links --sitemap https://www.delsolprimehomes.com/sitemap.xml --max-depth 1
  backoffice audit links https://www.delsolprimehomes.com/ --json links.json`,
	RunE: runAuditLinks,
}

var auditHreflangCmd = &cobra.Command{
	Use:   "hreflang",
	Short: "Report hreflang group health for Q&A pages or blog articles",
	RunE:  runAuditHreflang,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditLinksCmd)
	auditCmd.AddCommand(auditHreflangCmd)

	def := audit.DefaultOptions()
	auditCmd.PersistentFlags().DurationVar(&auditTimeout, "timeout", 15*time.Minute, "overall audit timeout")
	auditCmd.PersistentFlags().StringVar(&auditOut, "json", "", "write the report as JSON to this path")

	auditLinksCmd.Flags().StringVar(&auditSitemap, "sitemap", "", "seed the crawl from a sitemap URL")
	auditLinksCmd.Flags().IntVar(&auditMaxPages, "max-pages", def.MaxPages, "maximum pages to fetch")
	auditLinksCmd.Flags().IntVar(&auditMaxDepth, "max-depth", def.MaxDepth, "maximum link depth from a seed")
	auditLinksCmd.Flags().IntVar(&auditParallelism, "parallelism", def.Parallelism, "concurrent requests per host")
	auditLinksCmd.Flags().BoolVar(&auditNoExternal, "no-external", false, "skip probing external links")

	auditHreflangCmd.Flags().StringVar(&auditContentType, "content", string(hreflang.ContentQA), "content to audit (qa or blog)")
}

func runAuditLinks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), auditTimeout)
	defer cancel()

	seeds := append([]string(nil), args...)
	if auditSitemap != "" {
		client := util.NewHTTPClient(30*time.Second, cfg.Proxy.HTTPProxy, cfg.Proxy.HTTPSProxy, cfg.Proxy.NoProxy)
		entries, err := sitemap.NewParser(client, cfg.Site.UserAgent, logger).ParseURL(ctx, auditSitemap)
		if err != nil {
			return fmt.Errorf("read sitemap: %w", err)
		}
		seeds = append(seeds, sitemap.Locations(entries)...)
	}
	if len(seeds) == 0 {
		return fmt.Errorf("give at least one URL or --sitemap")
	}

	opts := audit.DefaultOptions()
	opts.MaxPages = auditMaxPages
	opts.MaxDepth = auditMaxDepth
	opts.Parallelism = auditParallelism
	opts.Proxy = cfg.Proxy
	if cfg.Site.UserAgent != "" {
		opts.UserAgent = cfg.Site.UserAgent
	}

	var external audit.ExternalChecker
	if !auditNoExternal {
		limiter := worker.NewLimiter(cfg.Bulk.RequestsPerSecond, cfg.Bulk.Burst)
		external = citations.NewHealthChecker(cfg.Citation, cfg.Proxy, limiter, logger)
	}

	printBanner("Link Audit")
	printField("Seeds", len(seeds))
	printField("Max pages", opts.MaxPages)
	printField("Max depth", opts.MaxDepth)
	fmt.Fprintln(os.Stderr)

	robots := util.NewRobotsChecker(opts.UserAgent, 10*time.Second, time.Hour)
	report, err := audit.NewLinkAuditor(opts, robots, external, logger).Audit(ctx, seeds)
	if err != nil && report == nil {
		return fmt.Errorf("audit failed: %w", err)
	}
	if err != nil {
		logger.Warn("audit stopped early", zap.Error(err))
	}

	for _, b := range report.Broken {
		printFailure("%s (%s) linked from %d page(s)\n", b.URL, describeBroken(b), len(b.Referrers))
	}
	printField("Pages", report.Pages)
	printField("Broken", len(report.Broken))
	printField("Blocked", len(report.Blocked))
	printField("External", len(report.External))
	if report.Truncated {
		printWarning("page budget reached; increase --max-pages for a full crawl\n")
	}
	if len(report.Broken) == 0 {
		printSuccess("no broken links\n")
	}
	return writeReport(report)
}

func describeBroken(b audit.BrokenLink) string {
	if b.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d", b.StatusCode)
	}
	return b.Error
}

func runAuditHreflang(cmd *cobra.Command, args []string) error {
	ct := hreflang.ContentType(auditContentType)
	if ct != hreflang.ContentQA && ct != hreflang.ContentBlog {
		return fmt.Errorf("unknown content type %q (want qa or blog)", auditContentType)
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

	ctx, cancel := context.WithTimeout(cmd.Context(), auditTimeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.hreflang.Audit(ctx, ct)
	if err != nil {
		return fmt.Errorf("audit failed: %w", err)
	}

	printBanner("Hreflang Audit: " + string(ct))
	printField("Pages", report.TotalPages)
	printField("Groups", report.TotalGroups)
	printField("Healthy", report.HealthyGroups)
	printField("Duplicates", len(report.DuplicateLanguages))
	printField("No English", len(report.MissingEnglish))
	printField("Oversized", len(report.Oversized))
	printField("Orphans", len(report.Orphans))
	fmt.Fprintln(os.Stderr)
	if report.Healthy() {
		printSuccess("all groups healthy\n")
	} else {
		printWarning("groups need repair; run POST /repair-hreflang with dryRun first\n")
	}
	return writeReport(report)
}

// writeReport prints v as indented JSON to --json, or to stdout without it
func writeReport(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if auditOut == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(auditOut, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	printSuccess("report written to %s\n", auditOut)
	return nil
}
