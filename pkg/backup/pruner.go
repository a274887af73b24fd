package backup

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// BackupFilenamePrefix is the prefix of every backup file name.
	BackupFilenamePrefix = "wallet_backup_"

	filenameLayout = "20060102T150405.000Z"
)

// File is a backup file of a backup directory.
type File struct {
	Path       string
	Timestamp  time.Time
	Compressed bool
}

// Filename returns the name of the backup file taken at t. Names sort in time order.
func Filename(t time.Time) string {
	return BackupFilenamePrefix + t.UTC().Format(filenameLayout) + ".db"
}

// Path returns the path of the backup file taken at t in dir.
func Path(dir string, t time.Time) string {
	return path.Join(dir, Filename(t))
}

// ParseFilename returns the time a backup file was taken at. It fails if name isn't the
// name of a backup file, compressed or not.
func ParseFilename(name string) (time.Time, bool, error) {
	compressed := strings.HasSuffix(name, ".db."+extension)
	trimmed := strings.TrimSuffix(name, "."+extension)
	if !strings.HasPrefix(trimmed, BackupFilenamePrefix) || !strings.HasSuffix(trimmed, ".db") {
		return time.Time{}, false, errors.Errorf("%s isn't a backup file", name)
	}
	ts := strings.TrimSuffix(strings.TrimPrefix(trimmed, BackupFilenamePrefix), ".db")
	t, err := time.Parse(filenameLayout, ts)
	if err != nil {
		return time.Time{}, false, errors.Errorf("parsing timestamp of %s: %s", name, err)
	}
	return t, compressed, nil
}

// List returns the backup files of dir, oldest first. Files that aren't backups are ignored.
func List(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %s", err)
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ts, compressed, err := ParseFilename(e.Name())
		if err != nil {
			continue
		}
		files = append(files, File{
			Path:       path.Join(dir, e.Name()),
			Timestamp:  ts,
			Compressed: compressed,
		})
	}

	sort.SliceStable(files, func(i, j int) bool { return files[i].Timestamp.Before(files[j].Timestamp) })
	return files, nil
}

// Prune prunes the directory keeping the n most recent backup files.
func Prune(dir string, keep int) error {
	if keep < 1 {
		return errors.New("keep less than one")
	}

	files, err := List(dir)
	if err != nil {
		return fmt.Errorf("listing backup files: %s", err)
	}
	if len(files) <= keep {
		return nil
	}

	for _, file := range files[:len(files)-keep] {
		if err := os.Remove(file.Path); err != nil {
			return errors.Errorf("os remove: %s", err)
		}
	}

	return nil
}
