package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/delsolprime/backoffice/internal/model"
)

const redacted = "********"

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage backoffice configuration",
	Long: `Manage backoffice configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (BACKOFFICE_*, then SUPABASE_URL, OPENAI_API_KEY, ...)
3. Config file (~/.backoffice/config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if f := viper.ConfigFileUsed(); f != "" {
			fmt.Fprintf(os.Stderr, "Configuration file: %s\n", f)
		} else {
			fmt.Fprintf(os.Stderr, "No configuration file found (using defaults and environment)\n")
		}
		printBanner("Current Configuration")

		out, err := redactedYAML(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Long:  `Create ~/.backoffice/config.yaml with every option at its default value.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("find home directory: %w", err)
		}
		path := filepath.Join(home, ".backoffice", "config.yaml")
		if err := writeDefaultConfig(path); err != nil {
			return err
		}

		printSuccess("Created default configuration: %s\n", path)
		fmt.Fprintf(os.Stderr, "\nSecrets are best supplied through the environment:\n")
		fmt.Fprintf(os.Stderr, "  export SUPABASE_URL=https://<ref>.supabase.co\n")
		fmt.Fprintf(os.Stderr, "  export SUPABASE_SERVICE_ROLE_KEY=...\n")
		fmt.Fprintf(os.Stderr, "  export OPENAI_API_KEY=sk-...\n")
		fmt.Fprintf(os.Stderr, "  export RESEND_API_KEY=re_...\n")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

// writeDefaultConfig writes the defaults to path, refusing to overwrite
func writeDefaultConfig(path string) (err error) {
	if _, statErr := os.Stat(path); statErr == nil {
		return fmt.Errorf("config file already exists: %s\nUse 'backoffice config show' to view it, or delete it first to recreate", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close config file: %w", closeErr)
		}
	}()

	header := "# backoffice configuration\n" +
		"#\n" +
		"# Precedence: CLI flags > BACKOFFICE_* env > this file > defaults.\n" +
		"# Keys map to env vars by upper-casing and replacing dots, e.g.\n" +
		"# supabase.url -> BACKOFFICE_SUPABASE_URL.\n\n"
	if _, err = f.WriteString(header); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// redactedYAML renders cfg with every set secret masked
func redactedYAML(cfg model.Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	for _, key := range secretKeys {
		parts := strings.Split(key, ".")
		node := tree
		for _, p := range parts[:len(parts)-1] {
			next, ok := node[p].(map[string]any)
			if !ok {
				node = nil
				break
			}
			node = next
		}
		if node == nil {
			continue
		}
		leaf := parts[len(parts)-1]
		if s, ok := node[leaf].(string); ok && s != "" {
			node[leaf] = redacted
		}
	}

	// P1 candidates are credentials too
	if prop, ok := tree["property"].(map[string]any); ok {
		if p1, ok := prop["p1"].([]any); ok {
			for i := range p1 {
				p1[i] = redacted
			}
		}
	}
	return yaml.Marshal(tree)
}
