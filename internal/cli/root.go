package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/delsolprime/backoffice/internal/logging"
	"github.com/delsolprime/backoffice/internal/model"
)

var (
	cfgFile string
	verbose bool

	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "backoffice",
	Short: "Del Sol Prime Homes back office - CRM, content and SEO operations",
	Long: `backoffice runs the server-side operations behind the Del Sol Prime Homes
website: lead registration and routing, claim and contact SLA sweeps,
article translation, hreflang repair, internal linking, citation discovery
and health checks, sitemaps, IndexNow pings and resumable bulk jobs.

Run "backoffice serve" for the HTTP API, or use the subcommands for
one-off jobs.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printFailure("%v\n", err)
	}
	return err
}

// SetVersionInfo records build metadata for the version command
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("backoffice %s (commit %s, built %s)\n", version, commit, date)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.backoffice/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("env", "", "environment namespace for Redis keys and channels")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("env", rootCmd.PersistentFlags().Lookup("env"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			printWarning("cannot find home directory: %v\n", err)
		} else {
			viper.AddConfigPath(filepath.Join(home, ".backoffice"))
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// BACKOFFICE_SUPABASE_URL overrides supabase.url
	viper.SetEnvPrefix("BACKOFFICE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := registerDefaults(viper.GetViper(), model.DefaultConfig()); err != nil {
		printWarning("cannot register config defaults: %v\n", err)
	}

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// registerDefaults declares every config key so AutomaticEnv can override
// keys that the config file does not mention
func registerDefaults(v *viper.Viper, cfg model.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)

	// Secrets are omitted from the marshalled defaults when empty
	for _, key := range secretKeys {
		if _, ok := lookup(tree, key); !ok {
			v.SetDefault(key, "")
		}
	}
	return nil
}

// lookup finds a dotted key in a decoded YAML tree
func lookup(tree map[string]any, key string) (any, bool) {
	parts := strings.Split(key, ".")
	node := tree
	for _, p := range parts[:len(parts)-1] {
		next, ok := node[p].(map[string]any)
		if !ok {
			return nil, false
		}
		node = next
	}
	val, ok := node[parts[len(parts)-1]]
	return val, ok
}

// secretKeys are redacted by "config show"
var secretKeys = []string{
	"supabase.service_key",
	"supabase.database_url",
	"redis.password",
	"llm.openai_key",
	"llm.anthropic_key",
	"llm.perplexity_key",
	"llm.gemini_key",
	"email.api_key",
	"chat.webhook_url",
	"property.api_key",
	"property.proxy_url",
	"indexnow.key",
}

// loadConfig resolves the effective configuration: flags, BACKOFFICE_* env,
// config file, then defaults. Vendor env vars fill anything still empty.
func loadConfig() (model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyVendorEnv(&cfg, os.Getenv)
	return cfg, nil
}

// applyVendorEnv maps the provider env vars the deployment already sets
func applyVendorEnv(cfg *model.Config, getenv func(string) string) {
	fill := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	fill(&cfg.Supabase.URL, "SUPABASE_URL")
	fill(&cfg.Supabase.ServiceKey, "SUPABASE_SERVICE_ROLE_KEY")
	fill(&cfg.Supabase.DatabaseURL, "DATABASE_URL")
	fill(&cfg.Redis.Addr, "REDIS_ADDR")
	fill(&cfg.LLM.OpenAIKey, "OPENAI_API_KEY")
	fill(&cfg.LLM.AnthropicKey, "ANTHROPIC_API_KEY")
	fill(&cfg.LLM.PerplexityKey, "PERPLEXITY_API_KEY")
	fill(&cfg.LLM.GeminiKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	fill(&cfg.Email.APIKey, "RESEND_API_KEY")
	fill(&cfg.Chat.WebhookURL, "CHAT_WEBHOOK_URL")
	fill(&cfg.IndexNow.Key, "INDEXNOW_API_KEY")
	fill(&cfg.Property.APIKey, "RESA_P2")
	fill(&cfg.Property.ProxyURL, "PROXY_URL")

	// p1 candidates are tried in order; both names are used in practice
	if len(cfg.Property.P1) == 0 {
		for _, k := range []string{"RESA_P1", "RESALES_ONLINE_API_KEY"} {
			v := getenv(k)
			if v != "" && (len(cfg.Property.P1) == 0 || cfg.Property.P1[0] != v) {
				cfg.Property.P1 = append(cfg.Property.P1, v)
			}
		}
	}
}

func newLogger() (*zap.Logger, error) {
	return logging.New(verbose)
}
