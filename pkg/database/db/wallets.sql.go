package db

import "context"

const insertWallet = `INSERT INTO wallets (address, added_at) VALUES (?, ?) ON CONFLICT (address) DO NOTHING`

// InsertWallet adds a watched address. Existing addresses keep their position.
func (q *Queries) InsertWallet(ctx context.Context, address string, addedAt int64) error {
	_, err := q.db.ExecContext(ctx, insertWallet, address, addedAt)
	return err
}

const deleteWallet = `DELETE FROM wallets WHERE address = ?`

// DeleteWallet removes a watched address.
func (q *Queries) DeleteWallet(ctx context.Context, address string) error {
	_, err := q.db.ExecContext(ctx, deleteWallet, address)
	return err
}

const listWallets = `SELECT address FROM wallets ORDER BY id`

// ListWallets lists the watched addresses in the order they were added.
func (q *Queries) ListWallets(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listWallets)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var items []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, err
		}
		items = append(items, address)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
