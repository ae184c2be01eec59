package cmd

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/camon/camon/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing camon configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in TOML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  camon config dump > config.toml

Configuration can be set via:
  - Config file (./config.toml, /etc/camon/config.toml, $HOME/.camon/config.toml)
  - Environment variables (CAMON_STORAGE_DATA_DIR, CAMON_HTTP_PORT, etc.)
  - Command-line flags (for logging)

Environment variables use the CAMON_ prefix and underscores for nesting.
Example: storage.data_dir -> CAMON_STORAGE_DATA_DIR`,
	RunE: runConfigDump,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long:  `Load and validate a configuration file without starting the recorder.`,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigDump(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Println("# camon configuration")
	fmt.Println("# Generated defaults; edit and pass with --config")
	fmt.Println()

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	os.Stdout.Write(data)
	return nil
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	_, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	fmt.Println("config is valid")
	return nil
}
