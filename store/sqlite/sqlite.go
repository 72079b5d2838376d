/*
Package sqlite provides a SQLite-backed payment.TxStore.

PURPOSE:
  Default persistence for the payment engine. The same schema runs on
  PostgreSQL (store/postgres) with only dialect differences.

KEY TABLES:
  jobs:               job id, title, owner, payer's partner debtor id
  workers:            worker id, partner merchant id
  work_hour_records:  hours x tariff per worker per job, with status
  transactions:       one row per billing attempt, never deleted

INVARIANT ENFORCEMENT:
  idx_transactions_one_active is a partial UNIQUE index on
  work_hour_record_id for every status except FAILED. Two batches racing on
  the same record cannot both insert; the loser gets
  payment.ErrDuplicateActiveTransaction. Nothing in process memory is
  trusted for this.

  Status updates are compare-and-set (WHERE status = previous). MarkPaid
  runs inside WithTx so the transaction row and the record row change in the
  same SQLite transaction.

CONCURRENCY:
  One open connection. SQLite has a single writer anyway, and ":memory:"
  databases are per-connection, so a pool would hand out empty databases.
  Transactions begin IMMEDIATE so a second process waits on the busy
  timeout instead of failing mid-transaction.

USAGE:
  store, err := sqlite.New("./data/payments.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := payment.NewEngine(store, partnerClient, payment.Options{})

SEE ALSO:
  - payment/store.go:   interface contract
  - store/postgres:     production store
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/securyflex/payment-engine/payment"
)

// timeLayout sorts lexically: fixed width, always UTC.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// maxInParams keeps IN lists under SQLite's bound variable limit.
const maxInParams = 500

// Store implements payment.TxStore using SQLite.
type Store struct {
	*queries
	db *sql.DB
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: &queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		debtor_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		merchant_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS work_hour_records (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES jobs(id),
		worker_id TEXT NOT NULL REFERENCES workers(id),
		work_date TEXT NOT NULL,
		hours TEXT NOT NULL,
		tariff TEXT NOT NULL,
		platform_fee TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_job_status
		ON work_hour_records(job_id, status);

	-- Transactions: one row per billing attempt, never deleted
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		work_hour_record_id TEXT NOT NULL REFERENCES work_hour_records(id),
		job_id TEXT NOT NULL,
		merchant_id TEXT NOT NULL DEFAULT '',
		debtor_id TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		direct_payment INTEGER NOT NULL DEFAULT 0,
		partner_request_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('PENDING', 'APPROVED', 'PAID', 'FAILED')),
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: at most one non-FAILED transaction per record
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_one_active
		ON transactions(work_hour_record_id)
		WHERE status <> 'FAILED';

	CREATE INDEX IF NOT EXISTS idx_transactions_job
		ON transactions(job_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (payment.TxStore)
// =============================================================================

// WithTx executes fn within one SQLite transaction.
func (s *Store) WithTx(ctx context.Context, fn func(payment.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// QUERIES - shared by Store and the WithTx view
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

// SaveJob inserts or updates a job.
func (s *queries) SaveJob(ctx context.Context, j payment.Job) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO jobs (id, title, owner_id, debtor_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			owner_id = excluded.owner_id,
			debtor_id = excluded.debtor_id
	`, j.ID, j.Title, j.OwnerID, j.DebtorID, formatTime(time.Now()))
	return err
}

// SaveWorker inserts or updates a worker.
func (s *queries) SaveWorker(ctx context.Context, w payment.Worker) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO workers (id, name, merchant_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			merchant_id = excluded.merchant_id
	`, w.ID, w.Name, w.MerchantID, formatTime(time.Now()))
	return err
}

// SaveRecord inserts or updates a work hour record.
func (s *queries) SaveRecord(ctx context.Context, r payment.WorkHourRecord) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO work_hour_records
		(id, job_id, worker_id, work_date, hours, tariff, platform_fee, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			job_id = excluded.job_id,
			worker_id = excluded.worker_id,
			work_date = excluded.work_date,
			hours = excluded.hours,
			tariff = excluded.tariff,
			platform_fee = excluded.platform_fee,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, r.ID, r.JobID, r.WorkerID, r.WorkDate.UTC().Format("2006-01-02"),
		r.Hours.String(), r.Tariff.String(), r.PlatformFee.String(), r.Status,
		formatTime(time.Now()))
	return err
}

func (s *queries) GetJob(ctx context.Context, id payment.JobID) (payment.Job, error) {
	var j payment.Job
	err := s.q.QueryRowContext(ctx,
		"SELECT id, title, owner_id, debtor_id FROM jobs WHERE id = ?", id,
	).Scan(&j.ID, &j.Title, &j.OwnerID, &j.DebtorID)
	if err == sql.ErrNoRows {
		return payment.Job{}, payment.ErrJobNotFound
	}
	if err != nil {
		return payment.Job{}, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (s *queries) LoadRecords(ctx context.Context, ids []payment.RecordID) ([]payment.RecordContext, error) {
	var out []payment.RecordContext
	for start := 0; start < len(ids); start += maxInParams {
		end := start + maxInParams
		if end > len(ids) {
			end = len(ids)
		}
		chunk, err := s.loadRecordChunk(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (s *queries) loadRecordChunk(ctx context.Context, ids []payment.RecordID) ([]payment.RecordContext, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `
		SELECT r.id, r.job_id, r.worker_id, r.work_date, r.hours, r.tariff, r.platform_fee, r.status,
		       COALESCE(w.merchant_id, ''), COALESCE(t.id, '')
		FROM work_hour_records r
		LEFT JOIN workers w ON w.id = r.worker_id
		LEFT JOIN transactions t ON t.work_hour_record_id = r.id AND t.status <> 'FAILED'
		WHERE r.id IN (` + placeholders(len(ids)) + `)`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []payment.RecordContext
	for rows.Next() {
		var (
			rc                              payment.RecordContext
			workDate, hours, tariff, feeStr string
		)
		if err := rows.Scan(&rc.Record.ID, &rc.Record.JobID, &rc.Record.WorkerID, &workDate,
			&hours, &tariff, &feeStr, &rc.Record.Status, &rc.MerchantID, &rc.ActiveTransactionID); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if err := fillRecord(&rc.Record, workDate, hours, tariff, feeStr); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (s *queries) ListUnbilledRecords(ctx context.Context, jobID payment.JobID) ([]payment.WorkHourRecord, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT r.id, r.job_id, r.worker_id, r.work_date, r.hours, r.tariff, r.platform_fee, r.status
		FROM work_hour_records r
		WHERE r.job_id = ? AND r.status = ?
		  AND NOT EXISTS (
			SELECT 1 FROM transactions t
			WHERE t.work_hour_record_id = r.id AND t.status <> 'FAILED'
		  )
		ORDER BY r.work_date, r.id
	`, jobID, payment.RecordApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to query unbilled records: %w", err)
	}
	defer rows.Close()

	var out []payment.WorkHourRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *queries) SetRecordStatus(ctx context.Context, id payment.RecordID, from, to payment.RecordStatus) error {
	res, err := s.q.ExecContext(ctx,
		"UPDATE work_hour_records SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		to, formatTime(time.Now()), id, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update record status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM work_hour_records WHERE id = ?", id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("work hour record %s not found", id)
		}
		return payment.ErrConcurrentModification
	}
	return nil
}

func (s *queries) InsertTransaction(ctx context.Context, tx payment.Transaction) error {
	created := tx.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	updated := tx.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO transactions
		(id, work_hour_record_id, job_id, merchant_id, debtor_id, amount, direct_payment,
		 partner_request_id, status, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.RecordID, tx.JobID, tx.MerchantID, tx.DebtorID,
		tx.Amount.StringFixed(2), tx.DirectPayment, tx.PartnerRequestID,
		tx.Status, tx.FailureReason, formatTime(created), formatTime(updated),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return payment.ErrDuplicateActiveTransaction
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *queries) GetTransaction(ctx context.Context, id payment.TransactionID) (payment.Transaction, error) {
	rows, err := s.q.QueryContext(ctx, selectTransactions+" WHERE id = ?", id)
	if err != nil {
		return payment.Transaction{}, fmt.Errorf("failed to query transaction: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return payment.Transaction{}, err
		}
		return payment.Transaction{}, payment.ErrTransactionNotFound
	}
	return scanTransaction(rows)
}

func (s *queries) UpdateTransactionStatus(ctx context.Context, id payment.TransactionID, from, to payment.Status, reason string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE transactions
		SET status = ?,
		    failure_reason = CASE WHEN ? <> '' THEN ? ELSE failure_reason END,
		    updated_at = ?
		WHERE id = ? AND status = ?
	`, to, reason, reason, formatTime(time.Now()), id, from)
	if err != nil {
		if isUniqueConstraintError(err) {
			return payment.ErrDuplicateActiveTransaction
		}
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetTransaction(ctx, id); err != nil {
			return err
		}
		return payment.ErrConcurrentModification
	}
	return nil
}

func (s *queries) ListTransactionsByJob(ctx context.Context, jobID payment.JobID) ([]payment.Transaction, error) {
	rows, err := s.q.QueryContext(ctx, selectTransactions+" WHERE job_id = ? ORDER BY created_at ASC, rowid ASC", jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []payment.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

const selectTransactions = `
	SELECT id, work_hour_record_id, job_id, merchant_id, debtor_id, amount, direct_payment,
	       partner_request_id, status, failure_reason, created_at, updated_at
	FROM transactions`

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (payment.Transaction, error) {
	var (
		tx                 payment.Transaction
		amount             string
		createdAt, updated string
	)
	err := row.Scan(&tx.ID, &tx.RecordID, &tx.JobID, &tx.MerchantID, &tx.DebtorID, &amount,
		&tx.DirectPayment, &tx.PartnerRequestID, &tx.Status, &tx.FailureReason, &createdAt, &updated)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return tx, fmt.Errorf("transaction %s: bad amount %q: %w", tx.ID, amount, err)
	}
	tx.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	tx.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return tx, nil
}

func scanRecord(row scanner) (payment.WorkHourRecord, error) {
	var (
		rec                             payment.WorkHourRecord
		workDate, hours, tariff, feeStr string
	)
	if err := row.Scan(&rec.ID, &rec.JobID, &rec.WorkerID, &workDate, &hours, &tariff, &feeStr, &rec.Status); err != nil {
		if err == sql.ErrNoRows {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan record: %w", err)
	}
	return rec, fillRecord(&rec, workDate, hours, tariff, feeStr)
}

func fillRecord(rec *payment.WorkHourRecord, workDate, hours, tariff, fee string) error {
	var err error
	if rec.WorkDate, err = time.Parse("2006-01-02", workDate); err != nil {
		return fmt.Errorf("record %s: bad work date %q: %w", rec.ID, workDate, err)
	}
	if rec.Hours, err = decimal.NewFromString(hours); err != nil {
		return fmt.Errorf("record %s: bad hours %q: %w", rec.ID, hours, err)
	}
	if rec.Tariff, err = decimal.NewFromString(tariff); err != nil {
		return fmt.Errorf("record %s: bad tariff %q: %w", rec.ID, tariff, err)
	}
	if rec.PlatformFee, err = decimal.NewFromString(fee); err != nil {
		return fmt.Errorf("record %s: bad platform fee %q: %w", rec.ID, fee, err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
