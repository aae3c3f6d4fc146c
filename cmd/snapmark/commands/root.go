package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/snapmark/internal/config"
	"github.com/bryanchriswhite/snapmark/internal/logger"
)

var (
	cfgFile   string
	logPretty bool
	rootCmd   = &cobra.Command{
		Use:   "snapmark",
		Short: "snapmark - capture, crop, annotate and export screenshots",
		Long: `snapmark captures a monitor, a window or a selected area, lets you crop
and draw on the result, and saves it as PNG. It can also record a monitor to
WebM.

Features:
  • Full-screen, window and area capture on X11 and Wayland
  • Crop selection mapped from any preview size to native pixels
  • Pen and eraser annotations flattened into the export
  • Screen recording through GStreamer
  • Auto-save to a directory, a save dialog, or S3
  • REST API, live MJPEG preview and event websocket`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(viper.GetString("log_level"), logPretty)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/snapmark/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "pretty", true, "human-readable log output")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the configuration and applies --port and --log-level.
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			configMgr.SetLogLevel(level)
		}
	}
	// Level from the file applies when no flag overrides it
	logger.Init(configMgr.GetLogLevel(), logPretty)
	return configMgr, nil
}
