package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/snapmark/internal/export"
	"github.com/bryanchriswhite/snapmark/internal/logger"
	"github.com/bryanchriswhite/snapmark/internal/session"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a monitor to WebM",
	Long: `Record a monitor through gst-launch-1.0 and export the result.

Recording stops after --duration, or on Ctrl+C when no duration is given.`,
	Example: `  # Record the only monitor for ten seconds
  snapmark record --duration 10s --output demo.webm

  # Record monitor 2 until interrupted
  snapmark record --source 2`,
	RunE: runRecord,
}

var (
	recordDuration time.Duration
	recordSource   uint32
	recordOutput   string
)

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 0, "stop after this long (default: until Ctrl+C)")
	recordCmd.Flags().Uint32VarP(&recordSource, "source", "s", 0, "monitor id (required with several monitors)")
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "", "output file or directory")
}

func runRecord(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	var chooser export.Chooser
	if recordOutput != "" {
		chooser = export.StaticChooser{Path: recordOutput}
	}

	ctx := cmd.Context()
	svc, err := newServices(ctx, configMgr, chooser)
	if err != nil {
		return err
	}
	defer svc.Close()
	if svc.recorder == nil {
		return fmt.Errorf("recording requires gst-launch-1.0 on PATH")
	}

	sess := svc.session
	if err := sess.SetMode(ctx, session.ModeRecord); err != nil {
		return reportStatus(err)
	}
	if recordSource != 0 {
		if err := sess.Select(recordSource); err != nil {
			return reportStatus(err)
		}
	}
	if err := sess.StartRecording(ctx); err != nil {
		return reportStatus(err)
	}

	log := logger.WithComponent("main")
	waitCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if recordDuration > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(waitCtx, recordDuration)
		defer cancel()
		log.Info().Dur("duration", recordDuration).Msg("Recording")
	} else {
		log.Info().Msg("Recording, press Ctrl+C to stop")
	}
	<-waitCtx.Done()

	stopCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	n, err := sess.StopRecording(stopCtx)
	if err != nil {
		return reportStatus(err)
	}

	res, err := sess.Export(ctx)
	if err != nil {
		return reportStatus(err)
	}
	if res.Cancelled {
		fmt.Println("Export cancelled")
		return nil
	}
	fmt.Printf("Saved %d byte recording to %s\n", n, res.Path)
	return nil
}
