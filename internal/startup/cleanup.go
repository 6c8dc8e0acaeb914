// Package startup provides tasks run once before the server starts serving.
package startup

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/vodarr/internal/streaming"
)

// CleanupOrphanedSessionDirs removes session work directories under workDir
// that were left behind by a previous process and are older than maxAge.
// It returns the number of directories removed.
func CleanupOrphanedSessionDirs(logger *slog.Logger, workDir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("work directory does not exist, skipping cleanup", slog.String("path", workDir))
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), streaming.SessionDirPrefix) {
			continue
		}

		dirPath := filepath.Join(workDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to stat session directory", slog.String("path", dirPath), slog.String("error", err.Error()))
			continue
		}
		age := time.Since(info.ModTime()).Round(time.Second)
		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent session directory", slog.String("path", dirPath), slog.Duration("age", age))
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			logger.Warn("failed to remove orphaned session directory", slog.String("path", dirPath), slog.String("error", err.Error()))
			continue
		}

		logger.Info("removed orphaned session directory", slog.String("path", dirPath), slog.Duration("age", age))
		removed++
	}

	return removed, nil
}
