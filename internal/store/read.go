package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BatchRecord is one row of the batch audit log.
type BatchRecord struct {
	ID                    string
	Status                string
	Explanation           string
	ErrorCode             string
	StateHash             string
	WitnessOrder          []string
	ExcludedTxs           []string
	LinearizabilityProved bool
	ConservationProved    bool
	Transactions          int
	Workers               int
	WallTime              time.Duration
	ProofTime             time.Duration
	CreatedAt             string
}

// DeltaRecord is one account change recorded for a batch.
type DeltaRecord struct {
	Account string
	Before  string
	After   string
	Created bool
}

// LoadAccounts reads the full durable ledger, sorted by key.
func (s *Store) LoadAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, balance, version FROM accounts ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var key, balance string
		var version int64
		if err := rows.Scan(&key, &balance, &version); err != nil {
			return nil, fmt.Errorf("load accounts: scan: %w", err)
		}
		bal, err := ledger.ParseDecimal(balance)
		if err != nil {
			return nil, fmt.Errorf("load accounts: account %s holds malformed balance %q: %w", key, balance, err)
		}
		accounts = append(accounts, ledger.Account{Key: key, Balance: bal, Version: version})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	return accounts, nil
}

// GetBatch reads one audit log entry. Returns ErrNotFound if the batch was
// never recorded.
func (s *Store) GetBatch(ctx context.Context, id string) (*BatchRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, explanation, COALESCE(error_code, ''), state_hash,
		       witness_order, excluded_txs, linearizability, conservation,
		       transactions, workers, wall_time_ns, proof_time_ns, created_at
		FROM batches WHERE id = ?
	`, id)

	rec, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	return rec, nil
}

// ListBatches returns the most recent audit log entries, newest first.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]*BatchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, explanation, COALESCE(error_code, ''), state_hash,
		       witness_order, excluded_txs, linearizability, conservation,
		       transactions, workers, wall_time_ns, proof_time_ns, created_at
		FROM batches ORDER BY created_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []*BatchRecord
	for rows.Next() {
		rec, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("list batches: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return out, nil
}

// GetDeltas reads the account changes a batch committed, sorted by account.
func (s *Store) GetDeltas(ctx context.Context, batchID string) ([]DeltaRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, COALESCE(before_balance, ''), after_balance, created
		FROM batch_deltas WHERE batch_id = ? ORDER BY account
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("get deltas %s: %w", batchID, err)
	}
	defer rows.Close()

	var out []DeltaRecord
	for rows.Next() {
		var d DeltaRecord
		if err := rows.Scan(&d.Account, &d.Before, &d.After, &d.Created); err != nil {
			return nil, fmt.Errorf("get deltas %s: scan: %w", batchID, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get deltas %s: %w", batchID, err)
	}
	return out, nil
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (*BatchRecord, error) {
	var rec BatchRecord
	var witnessJSON, excludedJSON string
	var wallNs, proofNs int64

	err := row.Scan(
		&rec.ID, &rec.Status, &rec.Explanation, &rec.ErrorCode, &rec.StateHash,
		&witnessJSON, &excludedJSON,
		&rec.LinearizabilityProved, &rec.ConservationProved,
		&rec.Transactions, &rec.Workers, &wallNs, &proofNs, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(witnessJSON), &rec.WitnessOrder); err != nil {
		return nil, fmt.Errorf("malformed witness order: %w", err)
	}
	if err := json.Unmarshal([]byte(excludedJSON), &rec.ExcludedTxs); err != nil {
		return nil, fmt.Errorf("malformed excluded txs: %w", err)
	}
	rec.WallTime = time.Duration(wallNs)
	rec.ProofTime = time.Duration(proofNs)
	return &rec, nil
}
