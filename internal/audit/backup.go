package audit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Backups snapshots the journal file so a bad purge or a corrupted disk
// cannot erase the trail. Snapshots are plain file copies; take them while
// no session is writing.
type Backups struct {
	journalPath string
	dir         string
	retention   time.Duration
	logger      zerolog.Logger
}

func NewBackups(journalPath, dir string, retention time.Duration, logger zerolog.Logger) *Backups {
	return &Backups{
		journalPath: journalPath,
		dir:         dir,
		retention:   retention,
		logger:      logger,
	}
}

// Run takes one snapshot and prunes expired ones, returning the snapshot
// path.
func (b *Backups) Run() (string, error) {
	path, err := b.snapshot()
	if err != nil {
		return "", err
	}
	b.prune()
	return path, nil
}

func (b *Backups) snapshot() (string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	name := fmt.Sprintf("settings_audit_%s.db", time.Now().Format("20060102_150405"))
	target := filepath.Join(b.dir, name)

	source, err := os.Open(b.journalPath)
	if err != nil {
		return "", fmt.Errorf("open journal: %w", err)
	}
	defer source.Close()

	destination, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	defer destination.Close()

	if _, err := io.Copy(destination, source); err != nil {
		return "", fmt.Errorf("copy journal: %w", err)
	}

	b.logger.Info().Str("path", target).Msg("audit journal backed up")
	return target, nil
}

func (b *Backups) prune() {
	if b.retention <= 0 {
		return
	}

	files, err := os.ReadDir(b.dir)
	if err != nil {
		b.logger.Error().Err(err).Msg("read backup dir for cleanup")
		return
	}

	cutoff := time.Now().Add(-b.retention)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			b.logger.Info().Str("file", file.Name()).Msg("deleting expired backup")
			_ = os.Remove(filepath.Join(b.dir, file.Name()))
		}
	}
}
