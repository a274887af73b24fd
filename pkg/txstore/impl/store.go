package impl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"
	"github.com/textileio/go-walletsync/pkg/database"
	"github.com/textileio/go-walletsync/pkg/database/db"
	"github.com/textileio/go-walletsync/pkg/txn"
	"github.com/textileio/go-walletsync/pkg/txstore"
)

// TxStore is the SQLite implementation of txstore.TxStore.
type TxStore struct {
	log      zerolog.Logger
	sqliteDB *database.SQLiteDB
}

var _ txstore.TxStore = (*TxStore)(nil)

// NewTxStore creates a new transaction store.
func NewTxStore(sqliteDB *database.SQLiteDB) *TxStore {
	log := sqliteDB.Log.With().
		Str("component", "txstore").
		Logger()

	return &TxStore{
		log:      log,
		sqliteDB: sqliteDB,
	}
}

// ListAll lists every record of a table by insertion order.
func (s *TxStore) ListAll(ctx context.Context, table txstore.Table) ([]txn.Record, error) {
	var rows []db.Transaction
	var err error
	switch table {
	case txstore.Confirmed:
		rows, err = s.sqliteDB.Queries.ListConfirmedTxs(ctx)
	case txstore.Pending:
		rows, err = s.sqliteDB.Queries.ListPendingTxs(ctx)
	default:
		return nil, fmt.Errorf("unknown table %s", table)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s txs: %s", table, err)
	}

	return fromRows(table, rows)
}

// ListByAddress lists the records of a table sent or received by address.
func (s *TxStore) ListByAddress(ctx context.Context, table txstore.Table, address string) ([]txn.Record, error) {
	addr := txn.NormalizeAddress(address)
	var rows []db.Transaction
	var err error
	switch table {
	case txstore.Confirmed:
		rows, err = s.sqliteDB.Queries.ListConfirmedTxsByAddress(ctx, addr)
	case txstore.Pending:
		rows, err = s.sqliteDB.Queries.ListPendingTxsByAddress(ctx, addr)
	default:
		return nil, fmt.Errorf("unknown table %s", table)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s txs by address: %s", table, err)
	}

	return fromRows(table, rows)
}

// GetByHash gets a record by its hash.
func (s *TxStore) GetByHash(ctx context.Context, table txstore.Table, hash string) (txn.Record, error) {
	h := txn.NormalizeHash(hash)
	var row db.Transaction
	var err error
	switch table {
	case txstore.Confirmed:
		row, err = s.sqliteDB.Queries.GetConfirmedTx(ctx, h)
	case txstore.Pending:
		row, err = s.sqliteDB.Queries.GetPendingTx(ctx, h)
	default:
		return txn.Record{}, fmt.Errorf("unknown table %s", table)
	}
	if err == sql.ErrNoRows {
		return txn.Record{}, fmt.Errorf("get %s tx %s: %w", table, h, txstore.ErrNotFound)
	}
	if err != nil {
		return txn.Record{}, fmt.Errorf("get %s tx: %s", table, err)
	}

	return fromRow(table, row)
}

// BatchWrite writes the records in a single transaction.
func (s *TxStore) BatchWrite(ctx context.Context, table txstore.Table, records []txn.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.sqliteDB.Begin()
	if err != nil {
		return fmt.Errorf("opening db transaction: %s", err)
	}
	defer s.rollback(tx)

	queries := s.sqliteDB.Queries.WithTx(tx)
	for _, r := range records {
		if err := insert(ctx, queries, table, r); err != nil {
			return fmt.Errorf("%w: %s", txstore.ErrPartialWrite, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %s", txstore.ErrPartialWrite, err)
	}

	return nil
}

// Delete deletes a record by hash. Deleting a missing hash isn't an error.
func (s *TxStore) Delete(ctx context.Context, table txstore.Table, hash string) error {
	h := txn.NormalizeHash(hash)
	var err error
	switch table {
	case txstore.Confirmed:
		err = s.sqliteDB.Queries.DeleteConfirmedTx(ctx, h)
	case txstore.Pending:
		err = s.sqliteDB.Queries.DeletePendingTx(ctx, h)
	default:
		return fmt.Errorf("unknown table %s", table)
	}
	if err != nil {
		return fmt.Errorf("delete %s tx: %s", table, err)
	}

	return nil
}

// Apply writes the confirmed records, deletes the pending records of the confirmed hashes and
// the retired ones, and raises the cursor in a single transaction.
func (s *TxStore) Apply(ctx context.Context, batch txstore.Batch) error {
	if txn.NormalizeAddress(batch.Address) == "" {
		return errors.New("batch has no address")
	}

	tx, err := s.sqliteDB.Begin()
	if err != nil {
		return fmt.Errorf("opening db transaction: %s", err)
	}
	defer s.rollback(tx)

	queries := s.sqliteDB.Queries.WithTx(tx)
	for _, r := range batch.Confirmed {
		if err := insert(ctx, queries, txstore.Confirmed, r); err != nil {
			return fmt.Errorf("%w: %s", txstore.ErrPartialWrite, err)
		}
		// A pending record for the hash may have been stored after the batch was reconciled.
		if err := queries.DeletePendingTx(ctx, txn.NormalizeHash(r.Hash)); err != nil {
			return fmt.Errorf("deleting pending tx: %s", err)
		}
	}
	for _, hash := range batch.RetirePending {
		if err := queries.DeletePendingTx(ctx, txn.NormalizeHash(hash)); err != nil {
			return fmt.Errorf("deleting pending tx: %s", err)
		}
	}
	if err := queries.RaiseCursor(ctx, db.RaiseCursorParams{
		Key:         txstore.CursorKey(batch.Address),
		BlockNumber: int64(batch.Cursor),
		UpdatedAt:   time.Now().Unix(),
	}); err != nil {
		return fmt.Errorf("raising cursor: %s", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %s", err)
	}

	return nil
}

// GetCursor returns the highest block fully scanned for address.
func (s *TxStore) GetCursor(ctx context.Context, address string) (uint64, error) {
	height, err := s.sqliteDB.Queries.GetCursor(ctx, txstore.CursorKey(address))
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor: %s", err)
	}
	if height < 0 {
		s.log.Warn().Int64("height", height).Str("address", address).Msg("invalid cursor, starting from zero")
		return 0, nil
	}

	return uint64(height), nil
}

// SetCursor raises the cursor of address.
func (s *TxStore) SetCursor(ctx context.Context, address string, height uint64) error {
	if err := s.sqliteDB.Queries.RaiseCursor(ctx, db.RaiseCursorParams{
		Key:         txstore.CursorKey(address),
		BlockNumber: int64(height),
		UpdatedAt:   time.Now().Unix(),
	}); err != nil {
		return fmt.Errorf("raising cursor: %s", err)
	}

	return nil
}

// AddWallet records address as watched.
func (s *TxStore) AddWallet(ctx context.Context, address string) error {
	addr := txn.NormalizeAddress(address)
	if addr == "" {
		return errors.New("address is empty")
	}
	if err := s.sqliteDB.Queries.InsertWallet(ctx, addr, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("insert wallet: %s", err)
	}
	return nil
}

// RemoveWallet forgets address.
func (s *TxStore) RemoveWallet(ctx context.Context, address string) error {
	if err := s.sqliteDB.Queries.DeleteWallet(ctx, txn.NormalizeAddress(address)); err != nil {
		return fmt.Errorf("delete wallet: %s", err)
	}
	return nil
}

// ListWallets lists the watched addresses.
func (s *TxStore) ListWallets(ctx context.Context) ([]string, error) {
	addrs, err := s.sqliteDB.Queries.ListWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %s", err)
	}
	return addrs, nil
}

// GetNodeSnapshot returns the last persisted node status.
func (s *TxStore) GetNodeSnapshot(ctx context.Context) (txstore.NodeSnapshot, error) {
	row, err := s.sqliteDB.Queries.GetNodeSnapshot(ctx)
	if err == sql.ErrNoRows {
		return txstore.NodeSnapshot{}, fmt.Errorf("get node snapshot: %w", txstore.ErrNotFound)
	}
	if err != nil {
		return txstore.NodeSnapshot{}, fmt.Errorf("get node snapshot: %s", err)
	}

	return txstore.NodeSnapshot{
		Listening:     row.Listening,
		Syncing:       row.Syncing,
		StartingBlock: uint64(row.StartingBlock),
		CurrentBlock:  uint64(row.CurrentBlock),
		HighestBlock:  uint64(row.HighestBlock),
		PeerCount:     uint64(row.PeerCount),
		ObservedAt:    time.UnixMilli(row.ObservedAt),
	}, nil
}

// SetNodeSnapshot replaces the persisted node status.
func (s *TxStore) SetNodeSnapshot(ctx context.Context, snapshot txstore.NodeSnapshot) error {
	if err := s.sqliteDB.Queries.UpsertNodeSnapshot(ctx, db.NodeSnapshot{
		Listening:     snapshot.Listening,
		Syncing:       snapshot.Syncing,
		StartingBlock: int64(snapshot.StartingBlock),
		CurrentBlock:  int64(snapshot.CurrentBlock),
		HighestBlock:  int64(snapshot.HighestBlock),
		PeerCount:     int64(snapshot.PeerCount),
		ObservedAt:    snapshot.ObservedAt.UnixMilli(),
	}); err != nil {
		return fmt.Errorf("upsert node snapshot: %s", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *TxStore) Close() error {
	if err := s.sqliteDB.Close(); err != nil {
		return fmt.Errorf("closing db: %s", err)
	}
	return nil
}

func (s *TxStore) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		s.log.Error().Err(err).Msg("rollback txn")
	}
}

func insert(ctx context.Context, queries *db.Queries, table txstore.Table, r txn.Record) error {
	params, err := toParams(table, r)
	if err != nil {
		return err
	}

	switch table {
	case txstore.Confirmed:
		if err := queries.InsertConfirmedTx(ctx, params); err != nil {
			return fmt.Errorf("insert confirmed tx %s: %s", params.Hash, err)
		}
	case txstore.Pending:
		if _, err := queries.InsertPendingTx(ctx, params); err != nil {
			return fmt.Errorf("insert pending tx %s: %s", params.Hash, err)
		}
	default:
		return fmt.Errorf("unknown table %s", table)
	}

	return nil
}

func toParams(table txstore.Table, r txn.Record) (db.InsertTxParams, error) {
	r = r.Normalized()
	if r.Hash == "" {
		return db.InsertTxParams{}, errors.New("record has no hash")
	}
	if (table == txstore.Confirmed) != (r.State == txn.StateConfirmed) {
		return db.InsertTxParams{}, fmt.Errorf("%s record %s doesn't belong to the %s table", r.State, r.Hash, table)
	}

	return db.InsertTxParams{
		Hash:        r.Hash,
		FromAddress: r.From,
		ToAddress:   r.To,
		Value:       r.Value.String(),
		Nonce:       int64(r.Nonce),
		BlockHash:   r.BlockHash,
		BlockNumber: int64(r.BlockNumber),
		Gas:         int64(r.Gas),
		GasPrice:    r.GasPrice.String(),
		Input:       r.Input,
		Timestamp:   r.Timestamp,
	}, nil
}

func fromRows(table txstore.Table, rows []db.Transaction) ([]txn.Record, error) {
	records := make([]txn.Record, 0, len(rows))
	for _, row := range rows {
		r, err := fromRow(table, row)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func fromRow(table txstore.Table, row db.Transaction) (txn.Record, error) {
	value, ok := new(big.Int).SetString(row.Value, 10)
	if !ok {
		return txn.Record{}, fmt.Errorf("tx %s has an invalid value %q", row.Hash, row.Value)
	}
	gasPrice, ok := new(big.Int).SetString(row.GasPrice, 10)
	if !ok {
		return txn.Record{}, fmt.Errorf("tx %s has an invalid gas price %q", row.Hash, row.GasPrice)
	}

	state := txn.StateConfirmed
	if table == txstore.Pending {
		state = txn.StatePending
	}

	return txn.Record{
		State:       state,
		Hash:        row.Hash,
		From:        row.FromAddress,
		To:          row.ToAddress,
		Value:       value,
		Nonce:       uint64(row.Nonce),
		BlockHash:   row.BlockHash,
		BlockNumber: uint64(row.BlockNumber),
		Gas:         uint64(row.Gas),
		GasPrice:    gasPrice,
		Input:       row.Input,
		Timestamp:   row.Timestamp,
	}, nil
}
