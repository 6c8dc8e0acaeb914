package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vodarr/internal/ffmpeg"
	"github.com/jmylchreest/vodarr/internal/streaming"
)

var encoderCmd = &cobra.Command{
	Use:   "encoder",
	Short: "Encoder capability commands",
}

var encoderDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect ffmpeg and print the encoder profile serve would use",
	Args:  cobra.NoArgs,
	RunE:  runEncoderDetect,
}

func init() {
	rootCmd.AddCommand(encoderCmd)
	encoderCmd.AddCommand(encoderDetectCmd)
}

type encoderReport struct {
	FFmpeg   *ffmpeg.BinaryInfo       `json:"ffmpeg"`
	Accels   []ffmpeg.HWAccelInfo     `json:"hw_accels"`
	Profile  streaming.EncoderProfile `json:"profile"`
	Variants []streaming.Variant      `json:"variants"`
}

func runEncoderDetect(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tc, err := detectToolchain(ctx, cfg)
	if err != nil {
		return err
	}

	accels, err := ffmpeg.NewHWAccelDetector(tc.binary.FFmpegPath).Detect(ctx)
	if err != nil {
		slog.Default().Warn("hardware acceleration detection failed", slog.String("error", err.Error()))
	}

	report := encoderReport{
		FFmpeg:   tc.binary,
		Accels:   accels,
		Profile:  newProfileSelector(cfg, tc, slog.Default()).Select(ctx),
		Variants: streaming.Variants(),
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
