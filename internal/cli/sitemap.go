package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/delsolprime/backoffice/internal/sitemap"
	"github.com/delsolprime/backoffice/internal/util"
)

var (
	sitemapDir     string
	sitemapJSON    bool
	sitemapTimeout time.Duration
)

var sitemapCmd = &cobra.Command{
	Use:   "sitemap",
	Short: "Generate or read XML sitemaps",
}

var sitemapGenerateCmd = &cobra.Command{
	Use:   "generate [type...]",
	Short: "Render sitemaps from published content",
	Long: `Generate renders the requested sitemaps (index, blog, qa, glossary,
locations) into a directory. With no type, every sitemap is written.

Example:
  backoffice sitemap generate --dir ./public
  backoffice sitemap generate blog qa`,
	RunE: runSitemapGenerate,
}

var sitemapParseCmd = &cobra.Command{
	Use:   "parse <url>",
	Short: "List the URLs of a sitemap, following sitemap indexes",
	Args:  cobra.ExactArgs(1),
	RunE:  runSitemapParse,
}

func init() {
	rootCmd.AddCommand(sitemapCmd)
	sitemapCmd.AddCommand(sitemapGenerateCmd)
	sitemapCmd.AddCommand(sitemapParseCmd)

	sitemapGenerateCmd.Flags().StringVar(&sitemapDir, "dir", ".", "output directory")
	sitemapParseCmd.Flags().BoolVar(&sitemapJSON, "json", false, "print entries as JSON")
	sitemapCmd.PersistentFlags().DurationVar(&sitemapTimeout, "timeout", 2*time.Minute, "overall timeout")
}

func runSitemapGenerate(cmd *cobra.Command, args []string) error {
	types := sitemap.Types
	if len(args) > 0 {
		types = nil
		for _, a := range args {
			t := sitemap.ParseType(a)
			if string(t) != a {
				return fmt.Errorf("unknown sitemap type %q", a)
			}
			types = append(types, t)
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

	ctx, cancel := context.WithTimeout(cmd.Context(), sitemapTimeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := os.MkdirAll(sitemapDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, t := range types {
		data, err := a.sitemap.Generate(ctx, t)
		if err != nil {
			printFailure("%s: %v\n", t.Filename(), err)
			return err
		}
		path := filepath.Join(sitemapDir, t.Filename())
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		printSuccess("%s (%d bytes)\n", path, len(data))
	}
	return nil
}

func runSitemapParse(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), sitemapTimeout)
	defer cancel()

	client := util.NewHTTPClient(30*time.Second, cfg.Proxy.HTTPProxy, cfg.Proxy.HTTPSProxy, cfg.Proxy.NoProxy)
	entries, err := sitemap.NewParser(client, cfg.Site.UserAgent, logger).ParseURL(ctx, args[0])
	if err != nil {
		return fmt.Errorf("parse sitemap: %w", err)
	}

	if sitemapJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	for _, loc := range sitemap.Locations(entries) {
		fmt.Println(loc)
	}
	printSuccess("%d URLs\n", len(entries))
	return nil
}
