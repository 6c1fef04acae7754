package sqlite

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const backupPrefix = "backup_"

// rotateBackup copies the database file into the backup directory under a
// timestamped name and evicts the oldest backups beyond the retention cap.
// Best-effort throughout: every failure is logged and swallowed so a backup
// problem can never block the primary write.
func (s *Store) rotateBackup() {
	if s.backupDir == "" || s.retention <= 0 {
		return
	}
	if _, err := os.Stat(s.path); err != nil {
		// Nothing durable to back up yet.
		return
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		log.Printf("backup: cannot create %s: %v", s.backupDir, err)
		return
	}

	name := backupPrefix + time.Now().UTC().Format("20060102_150405.000000000") + ".db"
	if err := copyFile(s.path, filepath.Join(s.backupDir, name)); err != nil {
		log.Printf("backup: copy failed: %v", err)
		return
	}

	s.pruneBackups()
}

// pruneBackups keeps only the newest retention backups. Timestamped names
// sort lexicographically, so the oldest come first.
func (s *Store) pruneBackups() {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		log.Printf("backup: cannot list %s: %v", s.backupDir, err)
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) <= s.retention {
		return
	}
	sort.Strings(names)
	for _, old := range names[:len(names)-s.retention] {
		if err := os.Remove(filepath.Join(s.backupDir, old)); err != nil {
			log.Printf("backup: evict %s: %v", old, err)
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
