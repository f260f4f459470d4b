package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/diotec-barros/diotec360-sub006/internal/batch"
	"github.com/diotec-barros/diotec360-sub006/internal/commit"
	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
)

// PersistCommit implements commit.Persister: the committed deltas are
// upserted into the accounts table in one SQLite transaction while the batch
// is still in the Committing state. An error here rolls the whole batch
// back, so partial persistence is never observable.
func (s *Store) PersistCommit(req *commit.Request, deltas []ledger.Delta) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("persist commit: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, d := range deltas {
		_, err := tx.Exec(`
			INSERT INTO accounts (key, balance, version, updated_batch)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(key) DO UPDATE SET
				balance = excluded.balance,
				version = accounts.version + 1,
				updated_batch = excluded.updated_batch
		`,
			d.Account,
			ledger.CanonicalString(d.After),
			req.BatchID,
		)
		if err != nil {
			return fmt.Errorf("persist commit: account %s: %w", d.Account, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist commit: commit: %w", err)
	}
	return nil
}

// SaveAccounts writes a full set of accounts. Intended for seeding a fresh
// ledger from a batch file; idempotent per account.
func (s *Store) SaveAccounts(ctx context.Context, accounts []ledger.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save accounts: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, acct := range accounts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (key, balance, version)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				balance = excluded.balance,
				version = excluded.version
		`,
			acct.Key,
			ledger.CanonicalString(acct.Balance),
			acct.Version,
		)
		if err != nil {
			return fmt.Errorf("save accounts: %s: %w", acct.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save accounts: commit: %w", err)
	}
	return nil
}

// SaveBatch appends a batch result to the audit log: one batches row plus
// one batch_deltas row per account change, in a single SQLite transaction.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - writing the same batch
// twice is a no-op.
func (s *Store) SaveBatch(ctx context.Context, res *batch.BatchResult) error {
	witnessJSON, err := json.Marshal(orEmpty(res.WitnessOrder))
	if err != nil {
		return fmt.Errorf("save batch: marshal witness order: %w", err)
	}
	excludedJSON, err := json.Marshal(orEmpty(res.ExcludedTxs))
	if err != nil {
		return fmt.Errorf("save batch: marshal excluded txs: %w", err)
	}

	var errorCode *string
	if res.Err != nil {
		code := string(res.Err.Code)
		errorCode = &code
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save batch: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO batches
		(id, status, explanation, error_code, state_hash, witness_order,
		 excluded_txs, linearizability, conservation, transactions, workers,
		 wall_time_ns, proof_time_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		res.BatchID,
		string(res.Status),
		res.Explanation,
		errorCode,
		res.StateHash,
		string(witnessJSON),
		string(excludedJSON),
		res.LinearizabilityProved,
		res.ConservationProved,
		res.Metrics.Transactions,
		res.Metrics.Workers,
		res.Metrics.WallTime.Nanoseconds(),
		res.Metrics.ProofTime.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("save batch: insert: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save batch: rows affected: %w", err)
	}
	if rows == 0 {
		// Batch already recorded; the deltas are too.
		return tx.Commit()
	}

	for _, d := range res.Deltas {
		var before *string
		if d.Before != nil {
			b := ledger.CanonicalString(d.Before)
			before = &b
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batch_deltas
			(batch_id, account, before_balance, after_balance, created)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(batch_id, account) DO NOTHING
		`,
			res.BatchID,
			d.Account,
			before,
			ledger.CanonicalString(d.After),
			d.Created,
		)
		if err != nil {
			return fmt.Errorf("save batch: delta %s: %w", d.Account, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save batch: commit: %w", err)
	}
	return nil
}

func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
