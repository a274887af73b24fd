package backup

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Backuper makes online backups of the wallet database.
type Backuper struct {
	sourcePath string
	dir        string
	config     *Config

	now func() time.Time
}

// NewBackuper creates a new backuper of the wallet database at sourcePath. Backups are
// written to backupDir, which is created if it doesn't exist.
func NewBackuper(sourcePath string, backupDir string, opts ...Option) (*Backuper, error) {
	config := DefaultConfig()
	for _, o := range opts {
		if err := o(config); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, errors.Errorf("os mkdir all: %s", err)
	}

	return &Backuper{
		sourcePath: sourcePath,
		dir:        backupDir,
		config:     config,
		now:        time.Now,
	}, nil
}

// BackupResult represents the result of a backup process.
type BackupResult struct {
	Timestamp time.Time
	Path      string

	// Checkpoint describes the sync state captured by the backup.
	Checkpoint Checkpoint

	// Stats
	ElapsedTime            time.Duration
	VacuumElapsedTime      time.Duration
	CompressionElapsedTime time.Duration
	Size                   int64
	SizeAfterVacuum        int64
	SizeAfterCompression   int64
}

// Checkpoint is the sync state stored in a backup. Restoring the backup resumes every
// wallet from its cursor.
type Checkpoint struct {
	Wallets      []WalletCursor
	ConfirmedTxs int64
	PendingTxs   int64

	// NodeHead is the head of the chain in the last node snapshot, zero if there was none.
	NodeHead       uint64
	NodeObservedAt time.Time
}

// WalletCursor is the highest block scanned for a watched wallet.
type WalletCursor struct {
	Address string
	Cursor  uint64
}

// Backup copies the wallet database to a new file of the backup directory. The copy is made
// with the SQLite backup API, so it's consistent even while sync passes are writing.
// Serial calls are safe, which can be used to retry after errors.
func (b *Backuper) Backup(ctx context.Context) (_ BackupResult, err error) {
	timestamp := b.now().UTC()
	backupPath := Path(b.dir, timestamp)
	defer func() {
		if err != nil {
			_ = os.Remove(backupPath)
			_ = os.Remove(backupPath + "." + extension)
		}
	}()

	result := BackupResult{
		Timestamp: timestamp,
		Path:      backupPath,
	}

	startTime := time.Now()
	if err := b.copy(ctx, backupPath); err != nil {
		return BackupResult{}, errors.Errorf("copying database: %s", err)
	}
	result.ElapsedTime = time.Since(startTime)
	if result.Size, err = fileSize(backupPath); err != nil {
		return BackupResult{}, err
	}

	backup, err := openDatabase(backupPath)
	if err != nil {
		return BackupResult{}, errors.Errorf("opening backup: %s", err)
	}
	defer func() {
		_ = backup.Close()
	}()

	if result.Checkpoint, err = readCheckpoint(ctx, backup); err != nil {
		return BackupResult{}, errors.Errorf("reading checkpoint: %s", err)
	}

	if b.config.Vacuum {
		startTime := time.Now()
		if _, err := backup.ExecContext(ctx, "VACUUM"); err != nil {
			return BackupResult{}, errors.Errorf("exec vacuum: %s", err)
		}
		result.VacuumElapsedTime = time.Since(startTime)
		if result.SizeAfterVacuum, err = fileSize(backupPath); err != nil {
			return BackupResult{}, err
		}
	}
	if err := backup.Close(); err != nil {
		return BackupResult{}, errors.Errorf("closing backup: %s", err)
	}

	if b.config.Compression {
		startTime := time.Now()
		compressedPath, err := Compress(backupPath)
		if err != nil {
			return BackupResult{}, errors.Errorf("compress: %s", err)
		}
		if err := os.Remove(backupPath); err != nil {
			return BackupResult{}, errors.Errorf("os remove: %s", err)
		}
		result.Path = compressedPath
		result.CompressionElapsedTime = time.Since(startTime)
		if result.SizeAfterCompression, err = fileSize(compressedPath); err != nil {
			return BackupResult{}, err
		}
	}

	if b.config.Pruning {
		if err := Prune(b.dir, b.config.KeepFiles); err != nil {
			return BackupResult{}, errors.Errorf("prune: %s", err)
		}
	}

	return result, nil
}

// copy copies every page of the source database to dst in a single step.
func (b *Backuper) copy(ctx context.Context, dst string) error {
	source, err := openDatabase("file:" + b.sourcePath + "?mode=ro")
	if err != nil {
		return errors.Errorf("opening source: %s", err)
	}
	defer func() {
		_ = source.Close()
	}()
	backup, err := openDatabase(dst)
	if err != nil {
		return errors.Errorf("opening destination: %s", err)
	}
	defer func() {
		_ = backup.Close()
	}()

	in, err := source.Conn(ctx)
	if err != nil {
		return errors.Errorf("getting source conn: %s", err)
	}
	defer func() {
		_ = in.Close()
	}()
	out, err := backup.Conn(ctx)
	if err != nil {
		return errors.Errorf("getting destination conn: %s", err)
	}
	defer func() {
		_ = out.Close()
	}()

	return in.Raw(func(inConn interface{}) error {
		return out.Raw(func(outConn interface{}) error {
			bk, err := outConn.(*sqlite3.SQLiteConn).Backup("main", inConn.(*sqlite3.SQLiteConn), "main")
			if err != nil {
				return errors.Errorf("initializing backup: %s", err)
			}
			done, err := bk.Step(-1)
			if err != nil {
				_ = bk.Close()
				return errors.Errorf("backup step: %s", err)
			}
			if !done || bk.Remaining() != 0 {
				_ = bk.Close()
				return errors.Errorf("backup isn't done, %d pages remaining", bk.Remaining())
			}
			if err := bk.Finish(); err != nil {
				return errors.Errorf("finishing backup: %s", err)
			}
			return nil
		})
	})
}

const (
	selectWalletCursors = `SELECT w.address, COALESCE(c.block_number, 0)
FROM wallets w LEFT JOIN sync_cursors c ON c.key = 'lastBlock_' || w.address
ORDER BY w.id`
	countConfirmedTxs = `SELECT count(1) FROM confirmed_txs`
	countPendingTxs   = `SELECT count(1) FROM pending_txs`
	selectNodeHead    = `SELECT current_block, observed_at FROM node_snapshot WHERE id = 1`
)

func readCheckpoint(ctx context.Context, db *sql.DB) (Checkpoint, error) {
	var cp Checkpoint

	rows, err := db.QueryContext(ctx, selectWalletCursors)
	if err != nil {
		return Checkpoint{}, errors.Errorf("querying wallet cursors: %s", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		var w WalletCursor
		var cursor int64
		if err := rows.Scan(&w.Address, &cursor); err != nil {
			return Checkpoint{}, errors.Errorf("scanning wallet cursor: %s", err)
		}
		if cursor > 0 {
			w.Cursor = uint64(cursor)
		}
		cp.Wallets = append(cp.Wallets, w)
	}
	if err := rows.Err(); err != nil {
		return Checkpoint{}, errors.Errorf("iterating wallet cursors: %s", err)
	}

	if err := db.QueryRowContext(ctx, countConfirmedTxs).Scan(&cp.ConfirmedTxs); err != nil {
		return Checkpoint{}, errors.Errorf("counting confirmed txs: %s", err)
	}
	if err := db.QueryRowContext(ctx, countPendingTxs).Scan(&cp.PendingTxs); err != nil {
		return Checkpoint{}, errors.Errorf("counting pending txs: %s", err)
	}

	var head, observedAt int64
	err = db.QueryRowContext(ctx, selectNodeHead).Scan(&head, &observedAt)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return Checkpoint{}, errors.Errorf("reading node head: %s", err)
	default:
		cp.NodeHead = uint64(head)
		cp.NodeObservedAt = time.UnixMilli(observedAt).UTC()
	}

	return cp, nil
}

func openDatabase(uri string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, errors.Errorf("opening db: %s", err)
	}
	db.SetMaxIdleConns(0)
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Errorf("pinging db: %s", err)
	}

	return db, nil
}

func fileSize(filename string) (int64, error) {
	fi, err := os.Stat(filename)
	if err != nil {
		return 0, errors.Errorf("os stat: %s", err)
	}
	return fi.Size(), nil
}

// Config contains configuration parameters for backuper.
type Config struct {
	Compression bool
	Pruning     bool
	Vacuum      bool
	KeepFiles   int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Compression: false,
		Pruning:     false,
		Vacuum:      false,
		KeepFiles:   5,
	}
}

// Option modifies a configuration attribute.
type Option func(*Config) error

// WithCompression enables compression.
func WithCompression(v bool) Option {
	return func(c *Config) error {
		c.Compression = v
		return nil
	}
}

// WithPruning enables pruning of old backup files, keeping the keep most recent ones.
func WithPruning(v bool, keep int) Option {
	return func(c *Config) error {
		if v && keep < 1 {
			return errors.New("keep less than one")
		}
		c.Pruning = v
		c.KeepFiles = keep
		return nil
	}
}

// WithVacuum enables VACUUM operation.
func WithVacuum(v bool) Option {
	return func(c *Config) error {
		c.Vacuum = v
		return nil
	}
}
