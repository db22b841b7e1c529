package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/delsolprime/backoffice/internal/indexnow"
	"github.com/delsolprime/backoffice/internal/sitemap"
	"github.com/delsolprime/backoffice/internal/util"
)

var (
	indexnowTable   string
	indexnowSlug    string
	indexnowSitemap string
)

var indexnowCmd = &cobra.Command{
	Use:   "indexnow",
	Short: "Notify search engines about changed URLs",
}

var indexnowPingCmd = &cobra.Command{
	Use:   "ping [url...]",
	Short: "Submit URLs to the IndexNow endpoints",
	Long: `Ping submits URLs given as arguments, the language variants of one
published item (--table and --slug), or every URL in a sitemap.

Example:
  backoffice indexnow ping https://www.delsolprimehomes.com/en/blog/buying-in-marbella
  backoffice indexnow ping --table blog_articles --slug buying-in-marbella
  backoffice indexnow ping --sitemap https://www.delsolprimehomes.com/sitemap-blog.xml`,
	RunE: runIndexNowPing,
}

func init() {
	rootCmd.AddCommand(indexnowCmd)
	indexnowCmd.AddCommand(indexnowPingCmd)

	indexnowPingCmd.Flags().StringVar(&indexnowTable, "table", "", "content table of the changed item")
	indexnowPingCmd.Flags().StringVar(&indexnowSlug, "slug", "", "slug of the changed item")
	indexnowPingCmd.Flags().StringVar(&indexnowSitemap, "sitemap", "", "submit every URL listed in this sitemap")
}

func runIndexNowPing(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	httpClient := util.NewHTTPClient(30*time.Second, cfg.Proxy.HTTPProxy, cfg.Proxy.HTTPSProxy, cfg.Proxy.NoProxy)
	client := indexnow.NewClient(cfg.IndexNow, cfg.Site, httpClient, logger)

	req := indexnow.Request{URLs: args, Table: indexnowTable, Slug: indexnowSlug}
	if indexnowSitemap != "" {
		entries, err := sitemap.NewParser(httpClient, cfg.Site.UserAgent, logger).ParseURL(ctx, indexnowSitemap)
		if err != nil {
			return fmt.Errorf("read sitemap: %w", err)
		}
		req.URLs = append(req.URLs, sitemap.Locations(entries)...)
	}

	urls, err := client.Resolve(req)
	if err != nil {
		return err
	}
	res, err := client.Submit(ctx, urls)
	if errors.Is(err, indexnow.ErrNoKey) {
		printWarning("no IndexNow key configured; skipped %d URL(s)\n", len(urls))
		return nil
	}
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}

	printBanner("IndexNow")
	printField("URLs", res.URLCount)
	for _, r := range res.Results {
		if r.Success {
			printSuccess("%s (HTTP %d)\n", r.Endpoint, r.Status)
		} else {
			printFailure("%s: %s\n", r.Endpoint, endpointError(r))
		}
	}
	if res.Truncated {
		printWarning("URL list truncated to the per-request limit\n")
	}
	if !res.Success {
		return errors.New(res.Message)
	}
	return nil
}

func endpointError(r indexnow.EndpointResult) string {
	if r.Error != "" {
		return r.Error
	}
	return fmt.Sprintf("HTTP %d", r.Status)
}
