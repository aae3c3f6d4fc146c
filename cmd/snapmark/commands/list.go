package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/snapmark/internal/capture"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List capture sources",
	Long: `List the monitors and, with --windows, the top-level windows that can be
captured. Windows smaller than capture.min_window_size are hidden.`,
	Example: `  # List monitors in table format (default)
  snapmark list

  # Include windows, as JSON
  snapmark list --windows --format json`,
	RunE: runList,
}

var (
	listFormat  string
	listWindows bool
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table or json)")
	listCmd.Flags().BoolVarP(&listWindows, "windows", "w", false, "also list windows")
}

func runList(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	router := capture.NewRouter(capture.RouterOptions{
		Preferred:     cfg.Capture.Backend,
		MinWindowSize: cfg.Capture.MinWindowSize,
	})
	if err := router.Start(); err != nil {
		return fmt.Errorf("failed to start capture backend: %w", err)
	}
	defer router.Stop()

	ctx := cmd.Context()
	monitors, err := router.EnumerateMonitors(ctx)
	if err != nil {
		return fmt.Errorf("failed to list monitors: %w", err)
	}
	var windows []capture.Window
	if listWindows {
		if windows, err = router.EnumerateWindows(ctx); err != nil {
			return fmt.Errorf("failed to list windows: %w", err)
		}
	}

	switch listFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		out := map[string]interface{}{"monitors": monitors}
		if listWindows {
			out["windows"] = windows
		}
		return encoder.Encode(out)
	case "table":
		printMonitorsTable(monitors)
		if listWindows {
			fmt.Println()
			printWindowsTable(windows)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", listFormat)
	}
}

func printMonitorsTable(monitors []capture.Monitor) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tNAME\tGEOMETRY\tPRIMARY")
	fmt.Fprintln(w, "--\t----\t--------\t-------")
	for _, m := range monitors {
		primary := "No"
		if m.Primary {
			primary = "Yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%dx%d+%d+%d\t%s\n", m.ID, m.Name, m.Width, m.Height, m.X, m.Y, primary)
	}
}

func printWindowsTable(windows []capture.Window) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tAPP\tSIZE\tTITLE")
	fmt.Fprintln(w, "--\t---\t----\t-----")
	for _, win := range windows {
		fmt.Fprintf(w, "%d\t%s\t%dx%d\t%s\n", win.ID, win.AppName, win.Width, win.Height, win.Title)
	}
}
