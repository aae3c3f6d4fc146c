package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/snapmark/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage snapmark configuration",
	Long:  `View and manage snapmark configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current snapmark configuration.`,
	Example: `  # Show configuration as YAML (default)
  snapmark config show

  # Show configuration as JSON
  snapmark config show --format json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long:  `Set a specific configuration value.`,
	Example: `  # Auto-save screenshots to a directory
  snapmark config set preferences.save_directory ~/Pictures/snapmark
  snapmark config set preferences.auto_save true

  # Export to S3
  snapmark config set export.backend s3
  snapmark config set export.s3.bucket my-screenshots`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Long:  `Get a specific configuration value.`,
	Example: `  # Get server port
  snapmark config get server_port

  # Get the save directory
  snapmark config get preferences.save_directory`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

var formatFlag string

var (
	intKeys = map[string]bool{
		"server_port":             true,
		"capture.min_window_size": true,
		"stream.fps":              true,
		"stream.jpeg_quality":     true,
		"recording.chunk_size":    true,
		"recording.fps":           true,
	}
	boolKeys = map[string]bool{
		"preferences.auto_save": true,
		"recording.portal":      true,
		"hotkey.enabled":        true,
	}
	enumKeys = map[string][]string{
		"log_level":         {"debug", "info", "warn", "error"},
		"capture.backend":   {"auto", "x11", "portal"},
		"recording.encoder": {"vp8", "vp9", "h264"},
		"export.backend":    {"file", "s3"},
		"export.chooser":    {"portal", "terminal"},
	}
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configMgr.Get()

	switch formatFlag {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

// parseValue converts value to the type stored under key.
func parseValue(key, value string) (interface{}, error) {
	switch {
	case intKeys[key]:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid number for %s: %s", key, value)
		}
		return n, nil
	case boolKeys[key]:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid boolean for %s: %s (use: true or false)", key, value)
		}
		return b, nil
	case enumKeys[key] != nil:
		for _, allowed := range enumKeys[key] {
			if value == allowed {
				return value, nil
			}
		}
		return nil, fmt.Errorf("invalid value for %s: %s (use: %v)", key, value, enumKeys[key])
	default:
		return value, nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	v := configMgr.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}
	parsed, err := parseValue(key, value)
	if err != nil {
		return err
	}
	v.Set(key, parsed)

	if err := configMgr.Apply(v); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Configuration updated: %s = %s\n", key, value)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	v := configMgr.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	fmt.Println(v.Get(key))
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println(configMgr.GetConfigPath())
	return nil
}
