package restorer

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/textileio/go-walletsync/pkg/backup"
)

// BackupRestorer is responsible for restoring a database from a backup file.
type BackupRestorer struct {
	src, dst string
}

// NewBackupRestorer creates a new BackupRestorer. src is an http(s) URL or a local path of a
// backup file, compressed or not. dst is the path of the restored database.
func NewBackupRestorer(src string, dst string) *BackupRestorer {
	return &BackupRestorer{
		src: src,
		dst: dst,
	}
}

// Restore restores the database from the backup file.
func (br *BackupRestorer) Restore(ctx context.Context) error {
	compressed := strings.HasSuffix(br.src, ".zst")
	tmp := br.dst + ".restore"
	download := tmp
	if compressed {
		download = tmp + ".zst"
	}
	defer func() {
		_ = os.Remove(download)
		_ = os.Remove(tmp)
	}()

	if err := br.fetchBackupFile(ctx, download); err != nil {
		return fmt.Errorf("fetching backup file: %s", err)
	}

	if compressed {
		if _, err := backup.Decompress(download); err != nil {
			return fmt.Errorf("decompress: %s", err)
		}
	}

	if err := br.cleanUp(ctx, tmp); err != nil {
		return fmt.Errorf("cleaning up: %s", err)
	}

	if err := os.Rename(tmp, br.dst); err != nil {
		return fmt.Errorf("moving restored database: %s", err)
	}

	return nil
}

func (br *BackupRestorer) fetchBackupFile(ctx context.Context, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating backup file: %s", err)
	}
	defer func() {
		_ = out.Close()
	}()

	var in io.ReadCloser
	if strings.HasPrefix(br.src, "http://") || strings.HasPrefix(br.src, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, br.src, nil)
		if err != nil {
			return fmt.Errorf("creating request: %s", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("downloading: %s", err)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return fmt.Errorf("bad status: %s", resp.Status)
		}
		in = resp.Body
	} else {
		f, err := os.Open(br.src)
		if err != nil {
			return fmt.Errorf("opening backup file: %s", err)
		}
		in = f
	}
	defer func() {
		_ = in.Close()
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("io copy: %s", err)
	}

	return out.Close()
}

// cleanUp removes the state that is stale in a restored database.
func (br *BackupRestorer) cleanUp(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("opening database: %s", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if _, err := db.ExecContext(ctx, "DELETE FROM node_snapshot"); err != nil {
		return fmt.Errorf("deleting rows from node_snapshot: %s", err)
	}

	return db.Close()
}
