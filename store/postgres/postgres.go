// Package postgres is the production payment.TxStore, backed by pgxpool.
//
// The schema mirrors store/sqlite. The one-active-transaction rule is the
// partial unique index idx_transactions_one_active; a violation (SQLSTATE
// 23505) surfaces as payment.ErrDuplicateActiveTransaction.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/securyflex/payment-engine/payment"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const uniqueViolation = "23505"

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	*queries
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{queries: &queries{q: pool}, pool: pool}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations executes the embedded SQL migrations in name order.
func (s *Store) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}
	return nil
}

// WithTx runs fn inside one Postgres transaction.
func (s *Store) WithTx(ctx context.Context, fn func(payment.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	q querier
}

// SaveJob upserts a job.
func (s *queries) SaveJob(ctx context.Context, j payment.Job) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO jobs (id, title, owner_id, debtor_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, owner_id = EXCLUDED.owner_id, debtor_id = EXCLUDED.debtor_id
	`, string(j.ID), j.Title, j.OwnerID, j.DebtorID)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// SaveWorker upserts a worker.
func (s *queries) SaveWorker(ctx context.Context, w payment.Worker) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO workers (id, name, merchant_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, merchant_id = EXCLUDED.merchant_id
	`, string(w.ID), w.Name, w.MerchantID)
	if err != nil {
		return fmt.Errorf("upsert worker: %w", err)
	}
	return nil
}

// SaveRecord upserts a work hour record.
func (s *queries) SaveRecord(ctx context.Context, r payment.WorkHourRecord) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO work_hour_records (id, job_id, worker_id, work_date, hours, tariff, platform_fee, status, updated_at)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7::text::numeric, $8, NOW())
		ON CONFLICT (id) DO UPDATE
		SET job_id = EXCLUDED.job_id, worker_id = EXCLUDED.worker_id, work_date = EXCLUDED.work_date,
		    hours = EXCLUDED.hours, tariff = EXCLUDED.tariff, platform_fee = EXCLUDED.platform_fee,
		    status = EXCLUDED.status, updated_at = NOW()
	`, string(r.ID), string(r.JobID), string(r.WorkerID), r.WorkDate.UTC(),
		r.Hours.String(), r.Tariff.String(), r.PlatformFee.String(), string(r.Status))
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func (s *queries) GetJob(ctx context.Context, id payment.JobID) (payment.Job, error) {
	var j payment.Job
	var jobID string
	err := s.q.QueryRow(ctx, `SELECT id, title, owner_id, debtor_id FROM jobs WHERE id = $1`, string(id)).
		Scan(&jobID, &j.Title, &j.OwnerID, &j.DebtorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.Job{}, payment.ErrJobNotFound
	}
	if err != nil {
		return payment.Job{}, fmt.Errorf("scan job: %w", err)
	}
	j.ID = payment.JobID(jobID)
	return j, nil
}

const selectRecords = `
	SELECT r.id, r.job_id, r.worker_id, r.work_date, r.hours::text, r.tariff::text, r.platform_fee::text, r.status`

func (s *queries) LoadRecords(ctx context.Context, ids []payment.RecordID) ([]payment.RecordContext, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}

	rows, err := s.q.Query(ctx, selectRecords+`,
		       COALESCE(w.merchant_id, ''), COALESCE(t.id, '')
		FROM work_hour_records r
		LEFT JOIN workers w ON w.id = r.worker_id
		LEFT JOIN transactions t ON t.work_hour_record_id = r.id AND t.status <> 'FAILED'
		WHERE r.id = ANY($1)
	`, raw)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []payment.RecordContext
	for rows.Next() {
		var rc payment.RecordContext
		var activeID string
		rec, err := scanRecord(rows, &rc.MerchantID, &activeID)
		if err != nil {
			return nil, err
		}
		rc.Record = rec
		rc.ActiveTransactionID = payment.TransactionID(activeID)
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (s *queries) ListUnbilledRecords(ctx context.Context, jobID payment.JobID) ([]payment.WorkHourRecord, error) {
	rows, err := s.q.Query(ctx, selectRecords+`
		FROM work_hour_records r
		WHERE r.job_id = $1 AND r.status = $2
		  AND NOT EXISTS (
		    SELECT 1 FROM transactions t
		    WHERE t.work_hour_record_id = r.id AND t.status <> 'FAILED'
		  )
		ORDER BY r.work_date, r.id
	`, string(jobID), string(payment.RecordApproved))
	if err != nil {
		return nil, fmt.Errorf("query unbilled records: %w", err)
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
	tag, err := s.q.Exec(ctx, `
		UPDATE work_hour_records SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, string(id), string(from), string(to))
	if err != nil {
		return fmt.Errorf("update record status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM work_hour_records WHERE id = $1)`, string(id)).Scan(&exists); err != nil {
			return fmt.Errorf("check record: %w", err)
		}
		if !exists {
			return fmt.Errorf("work hour record %s not found", id)
		}
		return payment.ErrConcurrentModification
	}
	return nil
}

func (s *queries) InsertTransaction(ctx context.Context, tx payment.Transaction) error {
	created := tx.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	updated := tx.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO transactions
		(id, work_hour_record_id, job_id, merchant_id, debtor_id, amount, direct_payment,
		 partner_request_id, status, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7, $8, $9, $10, $11, $12)
	`, string(tx.ID), string(tx.RecordID), string(tx.JobID), tx.MerchantID, tx.DebtorID,
		tx.Amount.StringFixed(2), tx.DirectPayment, tx.PartnerRequestID, string(tx.Status),
		tx.FailureReason, created, updated)
	if err != nil {
		if isUniqueViolation(err) {
			return payment.ErrDuplicateActiveTransaction
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

const selectTransactions = `
	SELECT id, work_hour_record_id, job_id, merchant_id, debtor_id, amount::text, direct_payment,
	       partner_request_id, status, failure_reason, created_at, updated_at
	FROM transactions`

func (s *queries) GetTransaction(ctx context.Context, id payment.TransactionID) (payment.Transaction, error) {
	tx, err := scanTransaction(s.q.QueryRow(ctx, selectTransactions+` WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.Transaction{}, payment.ErrTransactionNotFound
	}
	return tx, err
}

func (s *queries) UpdateTransactionStatus(ctx context.Context, id payment.TransactionID, from, to payment.Status, reason string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE transactions
		SET status = $3,
		    failure_reason = CASE WHEN $4 <> '' THEN $4 ELSE failure_reason END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, string(id), string(from), string(to), reason)
	if err != nil {
		if isUniqueViolation(err) {
			return payment.ErrDuplicateActiveTransaction
		}
		return fmt.Errorf("update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetTransaction(ctx, id); err != nil {
			return err
		}
		return payment.ErrConcurrentModification
	}
	return nil
}

func (s *queries) ListTransactionsByJob(ctx context.Context, jobID payment.JobID) ([]payment.Transaction, error) {
	rows, err := s.q.Query(ctx, selectTransactions+` WHERE job_id = $1 ORDER BY created_at ASC, id ASC`, string(jobID))
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
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

func scanTransaction(row pgx.Row) (payment.Transaction, error) {
	var (
		tx                                  payment.Transaction
		id, recordID, jobID, status, amount string
	)
	err := row.Scan(&id, &recordID, &jobID, &tx.MerchantID, &tx.DebtorID, &amount, &tx.DirectPayment,
		&tx.PartnerRequestID, &status, &tx.FailureReason, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tx, err
		}
		return tx, fmt.Errorf("scan transaction: %w", err)
	}
	tx.ID = payment.TransactionID(id)
	tx.RecordID = payment.RecordID(recordID)
	tx.JobID = payment.JobID(jobID)
	tx.Status = payment.Status(status)
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return tx, fmt.Errorf("transaction %s: parse amount %q: %w", id, amount, err)
	}
	return tx, nil
}

// scanRecord reads the selectRecords columns, then any extra destinations.
func scanRecord(row pgx.Row, extra ...any) (payment.WorkHourRecord, error) {
	var (
		rec                                        payment.WorkHourRecord
		id, jobID, workerID, status, hours, tariff string
		fee                                        string
	)
	dest := append([]any{&id, &jobID, &workerID, &rec.WorkDate, &hours, &tariff, &fee, &status}, extra...)
	if err := row.Scan(dest...); err != nil {
		return rec, fmt.Errorf("scan record: %w", err)
	}
	rec.ID = payment.RecordID(id)
	rec.JobID = payment.JobID(jobID)
	rec.WorkerID = payment.WorkerID(workerID)
	rec.Status = payment.RecordStatus(status)

	var err error
	if rec.Hours, err = decimal.NewFromString(hours); err != nil {
		return rec, fmt.Errorf("record %s: parse hours: %w", id, err)
	}
	if rec.Tariff, err = decimal.NewFromString(tariff); err != nil {
		return rec, fmt.Errorf("record %s: parse tariff: %w", id, err)
	}
	if rec.PlatformFee, err = decimal.NewFromString(fee); err != nil {
		return rec, fmt.Errorf("record %s: parse platform fee: %w", id, err)
	}
	return rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
