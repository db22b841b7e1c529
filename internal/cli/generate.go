package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/delsolprime/backoffice/internal/generate"
)

var (
	generateLanguage string
	generateAudience string
	generateKeyword  string
	generateTimeout  time.Duration
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write new content with the configured LLM provider",
}

var generateClusterCmd = &cobra.Command{
	Use:   "cluster <topic>",
	Short: "Plan and write one article cluster as drafts",
	Long: `Cluster asks the generation provider for a funnel plan of headlines
(TOFU, MOFU and BOFU), writes each article and stores them as drafts that
share a new cluster id. For many topics use the generate_clusters bulk
operation with one topic per line of --ids-file.

Example:
  backoffice generate cluster "Retiring on the Costa del Sol"
  backoffice generate cluster "Golf properties" --language de --keyword "golf immobilien"`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerateCluster,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.AddCommand(generateClusterCmd)

	generateClusterCmd.Flags().StringVar(&generateLanguage, "language", "en", "language of the cluster")
	generateClusterCmd.Flags().StringVar(&generateAudience, "audience", "", "target audience (default: international property buyers)")
	generateClusterCmd.Flags().StringVar(&generateKeyword, "keyword", "", "primary keyword (default: the topic)")
	generateClusterCmd.Flags().DurationVar(&generateTimeout, "timeout", 15*time.Minute, "overall timeout")
}

func runGenerateCluster(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), generateTimeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	req := generate.Request{
		Topic:          args[0],
		Language:       generateLanguage,
		TargetAudience: generateAudience,
		PrimaryKeyword: generateKeyword,
	}
	printBanner("Generate Cluster")
	printField("Topic", req.Topic)
	printField("Language", req.Language)
	printField("Provider", cfg.LLM.GenerationProvider)

	res, err := a.generator.GenerateCluster(ctx, req)
	if errors.Is(err, generate.ErrNoProvider) {
		return fmt.Errorf("%w: set llm.generation_provider and its API key", err)
	}
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	for _, art := range res.Articles {
		if art.Error != "" {
			printFailure("%s %s: %s\n", art.FunnelStage, art.Headline, art.Error)
		} else {
			printSuccess("%s %s (%s)\n", art.FunnelStage, art.Headline, art.Slug)
		}
	}
	printField("Cluster", res.ClusterID)
	printField("Succeeded", res.Succeeded)
	printField("Failed", res.Failed)
	if res.Succeeded == 0 {
		return errors.New("no article was generated")
	}
	return nil
}
