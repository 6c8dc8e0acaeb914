package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vodarr/internal/models"
)

var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "Manage the media catalog",
}

var mediaAddCmd = &cobra.Command{
	Use:   "add <media-id> <path>",
	Short: "Add a file to the catalog",
	Long: `Add a file to the catalog under a media ID clients request playback with.
Relative paths are resolved against the working directory. Codecs are probed
on first playback.`,
	Args: cobra.ExactArgs(2),
	RunE: runMediaAdd,
}

var mediaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cataloged media",
	Args:  cobra.NoArgs,
	RunE:  runMediaList,
}

var mediaRmCmd = &cobra.Command{
	Use:     "rm <media-id>",
	Aliases: []string{"remove"},
	Short:   "Remove a media item and its keyframe index",
	Args:    cobra.ExactArgs(1),
	RunE:    runMediaRm,
}

func init() {
	rootCmd.AddCommand(mediaCmd)
	mediaCmd.AddCommand(mediaAddCmd, mediaListCmd, mediaRmCmd)
}

func runMediaAdd(cmd *cobra.Command, args []string) error {
	mediaID := args[0]
	path, err := filepath.Abs(args[1])
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("checking media file: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	st, err := openStore(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer st.Close()

	existing, err := st.items.GetByMediaID(cmd.Context(), mediaID)
	if err != nil {
		return fmt.Errorf("looking up media item: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("media %q already exists (%s)", mediaID, existing.Path)
	}

	item := &models.MediaItem{MediaID: mediaID, Path: path}
	if err := st.items.Create(cmd.Context(), item); err != nil {
		return fmt.Errorf("adding media item: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added %s -> %s\n", item.MediaID, item.Path)
	return nil
}

func runMediaList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	st, err := openStore(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer st.Close()

	items, err := st.items.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing media: %w", err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MEDIA ID\tVIDEO\tAUDIO\tINDEXED\tPATH")
	for _, item := range items {
		indexed, err := st.keyframes.Exists(cmd.Context(), item.MediaID)
		if err != nil {
			return fmt.Errorf("checking keyframe index: %w", err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
			item.MediaID, orDash(item.VideoCodec), orDash(item.AudioCodec), indexed, item.Path)
	}
	return tw.Flush()
}

func runMediaRm(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	st, err := openStore(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer st.Close()

	deleted, err := st.items.DeleteByMediaID(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("removing media item: %w", err)
	}
	if !deleted {
		return fmt.Errorf("media %q not found", args[0])
	}
	if err := st.keyframes.Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("removing keyframe index: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
