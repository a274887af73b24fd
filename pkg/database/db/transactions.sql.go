package db

import (
	"context"
	"database/sql"
)

const txColumns = `id, hash, from_address, to_address, value, nonce, block_hash, block_number, gas, gas_price, input, timestamp`

// InsertTxParams are the parameters of InsertConfirmedTx and InsertPendingTx.
type InsertTxParams struct {
	Hash        string
	FromAddress string
	ToAddress   string
	Value       string
	Nonce       int64
	BlockHash   string
	BlockNumber int64
	Gas         int64
	GasPrice    string
	Input       string
	Timestamp   int64
}

const insertConfirmedTx = `INSERT INTO confirmed_txs (
    hash, from_address, to_address, value, nonce, block_hash, block_number, gas, gas_price, input, timestamp
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (hash) DO NOTHING`

// InsertConfirmedTx inserts a confirmed transaction. Existing hashes are left untouched.
func (q *Queries) InsertConfirmedTx(ctx context.Context, arg InsertTxParams) error {
	_, err := q.db.ExecContext(ctx, insertConfirmedTx,
		arg.Hash,
		arg.FromAddress,
		arg.ToAddress,
		arg.Value,
		arg.Nonce,
		arg.BlockHash,
		arg.BlockNumber,
		arg.Gas,
		arg.GasPrice,
		arg.Input,
		arg.Timestamp,
	)
	return err
}

const insertPendingTx = `INSERT OR IGNORE INTO pending_txs (
    hash, from_address, to_address, value, nonce, block_hash, block_number, gas, gas_price, input, timestamp
) SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
WHERE NOT EXISTS (SELECT 1 FROM confirmed_txs WHERE hash = ?)`

// InsertPendingTx inserts a pending transaction unless the hash is already pending or confirmed.
// It returns the number of inserted rows.
func (q *Queries) InsertPendingTx(ctx context.Context, arg InsertTxParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertPendingTx,
		arg.Hash,
		arg.FromAddress,
		arg.ToAddress,
		arg.Value,
		arg.Nonce,
		arg.BlockHash,
		arg.BlockNumber,
		arg.Gas,
		arg.GasPrice,
		arg.Input,
		arg.Timestamp,
		arg.Hash,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listConfirmedTxs = `SELECT ` + txColumns + ` FROM confirmed_txs ORDER BY id`

// ListConfirmedTxs lists all confirmed transactions by insertion order.
func (q *Queries) ListConfirmedTxs(ctx context.Context) ([]Transaction, error) {
	return q.listTxs(ctx, listConfirmedTxs)
}

const listPendingTxs = `SELECT ` + txColumns + ` FROM pending_txs ORDER BY id`

// ListPendingTxs lists all pending transactions by insertion order.
func (q *Queries) ListPendingTxs(ctx context.Context) ([]Transaction, error) {
	return q.listTxs(ctx, listPendingTxs)
}

const listConfirmedTxsByAddress = `SELECT ` + txColumns + ` FROM confirmed_txs
WHERE from_address = ?1 OR to_address = ?1 ORDER BY id`

// ListConfirmedTxsByAddress lists the confirmed transactions sent or received by address.
func (q *Queries) ListConfirmedTxsByAddress(ctx context.Context, address string) ([]Transaction, error) {
	return q.listTxs(ctx, listConfirmedTxsByAddress, address)
}

const listPendingTxsByAddress = `SELECT ` + txColumns + ` FROM pending_txs
WHERE from_address = ?1 OR to_address = ?1 ORDER BY id`

// ListPendingTxsByAddress lists the pending transactions sent or received by address.
func (q *Queries) ListPendingTxsByAddress(ctx context.Context, address string) ([]Transaction, error) {
	return q.listTxs(ctx, listPendingTxsByAddress, address)
}

const getConfirmedTx = `SELECT ` + txColumns + ` FROM confirmed_txs WHERE hash = ?`

// GetConfirmedTx gets a confirmed transaction by hash.
func (q *Queries) GetConfirmedTx(ctx context.Context, hash string) (Transaction, error) {
	return scanTx(q.db.QueryRowContext(ctx, getConfirmedTx, hash))
}

const getPendingTx = `SELECT ` + txColumns + ` FROM pending_txs WHERE hash = ?`

// GetPendingTx gets a pending transaction by hash.
func (q *Queries) GetPendingTx(ctx context.Context, hash string) (Transaction, error) {
	return scanTx(q.db.QueryRowContext(ctx, getPendingTx, hash))
}

const deleteConfirmedTx = `DELETE FROM confirmed_txs WHERE hash = ?`

// DeleteConfirmedTx deletes a confirmed transaction by hash.
func (q *Queries) DeleteConfirmedTx(ctx context.Context, hash string) error {
	_, err := q.db.ExecContext(ctx, deleteConfirmedTx, hash)
	return err
}

const deletePendingTx = `DELETE FROM pending_txs WHERE hash = ?`

// DeletePendingTx deletes a pending transaction by hash.
func (q *Queries) DeletePendingTx(ctx context.Context, hash string) error {
	_, err := q.db.ExecContext(ctx, deletePendingTx, hash)
	return err
}

func (q *Queries) listTxs(ctx context.Context, query string, args ...interface{}) ([]Transaction, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var items []Transaction
	for rows.Next() {
		var i Transaction
		if err := rows.Scan(
			&i.ID,
			&i.Hash,
			&i.FromAddress,
			&i.ToAddress,
			&i.Value,
			&i.Nonce,
			&i.BlockHash,
			&i.BlockNumber,
			&i.Gas,
			&i.GasPrice,
			&i.Input,
			&i.Timestamp,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanTx(row *sql.Row) (Transaction, error) {
	var i Transaction
	err := row.Scan(
		&i.ID,
		&i.Hash,
		&i.FromAddress,
		&i.ToAddress,
		&i.Value,
		&i.Nonce,
		&i.BlockHash,
		&i.BlockNumber,
		&i.Gas,
		&i.GasPrice,
		&i.Input,
		&i.Timestamp,
	)
	return i, err
}
