package journal

import (
	"fmt"
	"os"
	"time"
)

// CleanupStats reports what Cleanup removed.
type CleanupStats struct {
	FilesRemoved int
	BytesFreed   int64
}

// Cleanup removes journal files last modified before the retention window.
func Cleanup(dir string, config Config, now time.Time) (CleanupStats, error) {
	config.applyDefaults()
	cutoff := now.AddDate(0, 0, -config.RetentionDays)

	var stats CleanupStats
	for _, path := range listFiles(dir, config.FilePrefix) {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return stats, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		stats.FilesRemoved++
		stats.BytesFreed += info.Size()
	}
	return stats, nil
}

// Stats summarises a journal directory.
type Stats struct {
	Files        int
	SizeBytes    int64
	LastSequence int64
	OldestFile   time.Time
	NewestFile   time.Time
}

// StatsFromDir inspects dir without opening a Journal.
func StatsFromDir(dir string, config Config) Stats {
	config.applyDefaults()
	files := listFiles(dir, config.FilePrefix)

	stats := Stats{Files: len(files), LastSequence: lastSequence(files)}
	for i, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		stats.SizeBytes += info.Size()
		mod := info.ModTime()
		if i == 0 || mod.Before(stats.OldestFile) {
			stats.OldestFile = mod
		}
		if mod.After(stats.NewestFile) {
			stats.NewestFile = mod
		}
	}
	return stats
}
