/*
store.go - Persistence interface for the payment engine

PURPOSE:
  The boundary between payment logic and the database. Implementations:
  - store/sqlite:   default, single file or :memory:
  - store/postgres: production
  - payment/store:  in-memory, for tests

INVARIANTS THE STORE MUST ENFORCE (not the caller):
  1. InsertTransaction rejects a second non-FAILED transaction for the same
     record with ErrDuplicateActiveTransaction. SQL stores use a partial
     unique index so two service instances cannot both win.
  2. UpdateTransactionStatus and SetRecordStatus are compare-and-set on the
     previous status and return ErrConcurrentModification when it moved.
  3. WithTx is all-or-nothing. MarkPaid depends on it.

NO DELETE:
  There is no way to delete a transaction. They are the audit trail.

SEE ALSO:
  - ledger.go: the only writer of transactions
*/
package payment

import "context"

// Store persists transactions and reads the records they bill.
type Store interface {
	// GetJob returns ErrJobNotFound for an unknown id.
	GetJob(ctx context.Context, id JobID) (Job, error)

	// LoadRecords returns the records that exist among ids, joined with the
	// worker's merchant id and any active transaction id. Missing ids are
	// simply absent from the result.
	LoadRecords(ctx context.Context, ids []RecordID) ([]RecordContext, error)

	// ListUnbilledRecords returns APPROVED records of the job that own no
	// active transaction.
	ListUnbilledRecords(ctx context.Context, jobID JobID) ([]WorkHourRecord, error)

	// SetRecordStatus moves a record from one status to another.
	SetRecordStatus(ctx context.Context, id RecordID, from, to RecordStatus) error

	// InsertTransaction appends a new transaction.
	InsertTransaction(ctx context.Context, tx Transaction) error

	// GetTransaction returns ErrTransactionNotFound for an unknown id.
	GetTransaction(ctx context.Context, id TransactionID) (Transaction, error)

	// UpdateTransactionStatus moves a transaction from one status to another,
	// recording reason when not empty.
	UpdateTransactionStatus(ctx context.Context, id TransactionID, from, to Status, reason string) error

	// ListTransactionsByJob returns the job's transactions, oldest first.
	ListTransactionsByJob(ctx context.Context, jobID JobID) ([]Transaction, error)
}

// TxStore adds atomic multi-write units on top of Store.
type TxStore interface {
	Store

	// WithTx runs fn inside one persistence transaction. If fn returns an
	// error everything fn wrote is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
