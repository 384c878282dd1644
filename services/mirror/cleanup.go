package mirror

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// arms the delayed sweep of the download directory, replacing any
// previously armed sweep
func (s *Service) scheduleCleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopCleanupLocked()
	gen := s.cleanupGen
	s.cleanup = time.AfterFunc(s.opts.CleanupDelay, func() { s.sweepDownloads(gen) })
	slog.Info("scheduled download directory cleanup", "delay", s.opts.CleanupDelay)
}

// disarms the pending sweep. the generation bump also voids a sweep
// whose timer already fired but has not swept yet.
func (s *Service) stopCleanupLocked() {
	s.cleanupGen++
	if s.cleanup == nil {
		return
	}
	s.cleanup.Stop()
	s.cleanup = nil
}

// removes downloaded archives so the disk does not fill up across
// runs. the sweep fires off a timer with nobody to report to, so
// failures only ever become warnings.
func (s *Service) sweepDownloads(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stop cannot unwind a callback that already launched, so a late
	// sweep revalidates under the lock before touching the directory.
	// holding the lock throughout keeps a fresh run from starting
	// mid-sweep.
	if gen != s.cleanupGen || s.running {
		slog.Debug("skipping superseded download directory cleanup")
		return
	}
	s.cleanup = nil

	infos, err := afero.ReadDir(s.opts.Fs, s.opts.DownloadDir)
	if err != nil {
		slog.Warn("failed to read download directory for cleanup", "err", err)
		return
	}

	removed := 0
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		err := s.opts.Fs.Remove(filepath.Join(s.opts.DownloadDir, info.Name()))
		if err != nil {
			slog.Warn("failed to remove downloaded archive", "file", info.Name(), "err", err)
			continue
		}
		removed++
	}
	slog.Info("swept download directory", "removed", removed)
}
