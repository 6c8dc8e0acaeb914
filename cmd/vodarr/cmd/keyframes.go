package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var keyframesCmd = &cobra.Command{
	Use:   "keyframes",
	Short: "Keyframe index commands",
}

var keyframesBuildCmd = &cobra.Command{
	Use:   "build <media-id>",
	Short: "Build or rebuild the keyframe index of a media item",
	Long: `Probe a media item for keyframes with ffprobe and replace its stored index.
Indexes are otherwise built on the first seek into the item.`,
	Args: cobra.ExactArgs(1),
	RunE: runKeyframesBuild,
}

func init() {
	rootCmd.AddCommand(keyframesCmd)
	keyframesCmd.AddCommand(keyframesBuildCmd)
}

func runKeyframesBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := slog.Default()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	tc, err := detectToolchain(ctx, cfg)
	if err != nil {
		return err
	}
	_, index := newKeyframeIndex(st, tc, logger)

	start := time.Now()
	timestamps, err := index.BuildIndex(ctx, args[0])
	if err != nil {
		return fmt.Errorf("building keyframe index: %w", err)
	}

	last := time.Duration(0)
	if n := len(timestamps); n > 0 {
		last = time.Duration(timestamps[n-1]) * time.Millisecond
	}
	fmt.Fprintf(cmd.OutOrStdout(), "indexed %s: %d keyframes, last at %s (took %s)\n",
		args[0], len(timestamps), last, time.Since(start).Round(time.Millisecond))
	return nil
}
