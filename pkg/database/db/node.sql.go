package db

import "context"

const getNodeSnapshot = `SELECT listening, syncing, starting_block, current_block, highest_block, peer_count, observed_at
FROM node_snapshot WHERE id = 1`

// GetNodeSnapshot gets the last persisted node status.
func (q *Queries) GetNodeSnapshot(ctx context.Context) (NodeSnapshot, error) {
	row := q.db.QueryRowContext(ctx, getNodeSnapshot)
	var i NodeSnapshot
	err := row.Scan(
		&i.Listening,
		&i.Syncing,
		&i.StartingBlock,
		&i.CurrentBlock,
		&i.HighestBlock,
		&i.PeerCount,
		&i.ObservedAt,
	)
	return i, err
}

const upsertNodeSnapshot = `INSERT INTO node_snapshot (
    id, listening, syncing, starting_block, current_block, highest_block, peer_count, observed_at
) VALUES (1, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    listening = excluded.listening,
    syncing = excluded.syncing,
    starting_block = excluded.starting_block,
    current_block = excluded.current_block,
    highest_block = excluded.highest_block,
    peer_count = excluded.peer_count,
    observed_at = excluded.observed_at`

// UpsertNodeSnapshot replaces the persisted node status.
func (q *Queries) UpsertNodeSnapshot(ctx context.Context, arg NodeSnapshot) error {
	_, err := q.db.ExecContext(ctx, upsertNodeSnapshot,
		arg.Listening,
		arg.Syncing,
		arg.StartingBlock,
		arg.CurrentBlock,
		arg.HighestBlock,
		arg.PeerCount,
		arg.ObservedAt,
	)
	return err
}
