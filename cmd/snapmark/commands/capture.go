package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/snapmark/internal/export"
	"github.com/bryanchriswhite/snapmark/internal/geometry"
	"github.com/bryanchriswhite/snapmark/internal/session"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Take a screenshot",
	Long: `Capture a monitor or window once and export it as PNG.

--crop selects an area in the coordinate space given by --display, which
defaults to the native size of the captured monitor. The destination is
--output when set; otherwise auto-save or the configured chooser decides.`,
	Example: `  # Capture the screen and ask where to save it
  snapmark capture

  # Capture window 0x4a00007 to a file
  snapmark capture --mode window --source 77594631 --output shot.png

  # Crop a region picked on a 960x540 preview
  snapmark capture --crop 100,50,400,300 --display 960x540 --output crop.png`,
	RunE: runCapture,
}

var (
	captureMode    string
	captureSource  uint32
	captureCrop    string
	captureDisplay string
	captureOutput  string
)

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().StringVarP(&captureMode, "mode", "m", "fullscreen", "capture mode (fullscreen, window or area)")
	captureCmd.Flags().Uint32VarP(&captureSource, "source", "s", 0, "monitor or window id (required for windows and with several monitors)")
	captureCmd.Flags().StringVar(&captureCrop, "crop", "", "crop rectangle as x,y,width,height")
	captureCmd.Flags().StringVar(&captureDisplay, "display", "", "coordinate space of --crop as WIDTHxHEIGHT")
	captureCmd.Flags().StringVarP(&captureOutput, "output", "o", "", "output file or directory")
}

func runCapture(cmd *cobra.Command, args []string) error {
	mode, err := session.ParseMode(captureMode)
	if err != nil {
		return err
	}
	if mode == session.ModeRecord {
		return fmt.Errorf("use 'snapmark record' for recordings")
	}

	var crop *geometry.Rect
	if captureCrop != "" {
		r, err := parseRect(captureCrop)
		if err != nil {
			return err
		}
		crop = &r
		mode = session.ModeArea
	}

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	var chooser export.Chooser
	if captureOutput != "" {
		chooser = export.StaticChooser{Path: captureOutput}
	}

	ctx := cmd.Context()
	svc, err := newServices(ctx, configMgr, chooser)
	if err != nil {
		return err
	}
	defer svc.Close()
	sess := svc.session

	if err := sess.RequestCapture(ctx, mode, captureSource); err != nil {
		return reportStatus(err)
	}

	if sess.State() == session.Cropping {
		if crop != nil {
			img := sess.Image()
			display := img.Size()
			if captureDisplay != "" {
				if display, err = parseSize(captureDisplay); err != nil {
					return err
				}
			}
			if err := sess.SetCropRect(*crop, display); err != nil {
				return reportStatus(err)
			}
		}
		if err := sess.ConfirmCrop(); err != nil {
			return reportStatus(err)
		}
	}

	img := sess.Image()
	width, height := img.Width(), img.Height()
	res, err := sess.Export(ctx)
	if err != nil {
		return reportStatus(err)
	}
	if res.Cancelled {
		fmt.Println("Export cancelled")
		return nil
	}
	fmt.Printf("Saved %dx%d screenshot to %s\n", width, height, res.Path)
	return nil
}

func parseRect(s string) (geometry.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geometry.Rect{}, fmt.Errorf("invalid crop %q (use x,y,width,height)", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geometry.Rect{}, fmt.Errorf("invalid crop %q: %w", s, err)
		}
		v[i] = f
	}
	r := geometry.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	return r, r.Validate()
}

func parseSize(s string) (geometry.Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return geometry.Size{}, fmt.Errorf("invalid size %q (use WIDTHxHEIGHT)", s)
	}
	width, err := strconv.ParseFloat(strings.TrimSpace(w), 64)
	if err != nil {
		return geometry.Size{}, fmt.Errorf("invalid size %q: %w", s, err)
	}
	height, err := strconv.ParseFloat(strings.TrimSpace(h), 64)
	if err != nil {
		return geometry.Size{}, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return geometry.Size{Width: width, Height: height}, nil
}
