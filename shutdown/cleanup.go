package shutdown

import (
	"context"
	"os"
	"path/filepath"

	"go_analyzer/core"
	"go_analyzer/logging"

	"go.uber.org/zap"
)

// PartialSuffix marks result files still being written.
const PartialSuffix = ".part"

// CleanupPartials removes leftover "*.part" files from dir. Failures are
// logged, never returned, so they cannot hold up the rest of shutdown.
func CleanupPartials(logger *logging.Logger, dir string) core.ShutdownFunc {
	return func(ctx context.Context) error {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+PartialSuffix))
		if err != nil {
			logger.Warn("could not list partial results", zap.String("dir", dir), zap.Error(err))
			return nil
		}

		removed := 0
		for _, path := range matches {
			if ctx.Err() != nil {
				logger.Warn("cleanup interrupted", zap.Int("removed", removed), zap.Int("remaining", len(matches)-removed))
				return nil
			}
			if err := os.Remove(path); err != nil {
				logger.Warn("could not remove partial result", zap.String("file", filepath.Base(path)), zap.Error(err))
				continue
			}
			removed++
		}
		if removed > 0 {
			logger.Info("removed partial results", zap.Int("count", removed), zap.String("dir", dir))
		}
		return nil
	}
}
