package db

import "context"

const getCursor = `SELECT block_number FROM sync_cursors WHERE key = ?`

// GetCursor gets the block number stored under key.
func (q *Queries) GetCursor(ctx context.Context, key string) (int64, error) {
	row := q.db.QueryRowContext(ctx, getCursor, key)
	var blockNumber int64
	err := row.Scan(&blockNumber)
	return blockNumber, err
}

// RaiseCursorParams are the parameters of RaiseCursor.
type RaiseCursorParams struct {
	Key         string
	BlockNumber int64
	UpdatedAt   int64
}

const raiseCursor = `INSERT INTO sync_cursors (key, block_number, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET
    block_number = MAX(sync_cursors.block_number, excluded.block_number),
    updated_at = excluded.updated_at`

// RaiseCursor stores the block number under key, unless a higher one is already stored.
func (q *Queries) RaiseCursor(ctx context.Context, arg RaiseCursorParams) error {
	_, err := q.db.ExecContext(ctx, raiseCursor, arg.Key, arg.BlockNumber, arg.UpdatedAt)
	return err
}
