package cache

import (
	"fmt"
	"log/slog"
	"os"
)

// Purger implements component H: a cold-start scan-and-delete of the
// on-disk cache directory, invoked by --purge before any Image Cache is
// constructed. It is deliberately independent of Cache so --purge can run
// (and exit 0) without standing up the rest of the process.
type Purger struct {
	Dir string
}

// NewPurger returns a Purger rooted at dir.
func NewPurger(dir string) *Purger {
	return &Purger{Dir: dir}
}

// Run scans dir, reports how many files it held, and deletes it
// recursively. Deleting a directory that does not exist is not an error.
func (p *Purger) Run() (filesRemoved int, err error) {
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("cache purge: nothing to do", "dir", p.Dir)
			return 0, nil
		}
		return 0, fmt.Errorf("scan cache directory: %w", err)
	}
	filesRemoved = len(entries)

	if err := os.RemoveAll(p.Dir); err != nil {
		return filesRemoved, fmt.Errorf("remove cache directory: %w", err)
	}
	slog.Info("cache purge complete", "dir", p.Dir, "files_removed", filesRemoved)
	return filesRemoved, nil
}
