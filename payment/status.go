package payment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// PaymentStats summarises a job's transactions.
type PaymentStats struct {
	Pending            int
	Approved           int
	Paid               int
	Failed             int
	Total              int
	DirectPaymentCount int

	// TotalAmount sums every non-FAILED transaction.
	TotalAmount decimal.Decimal
	PaidAmount  decimal.Decimal
}

// JobPaymentStatus is what an operator looks at before re-running a batch.
type JobPaymentStatus struct {
	JobID        JobID
	Transactions []Transaction
	Stats        PaymentStats
}

// StatusReader reports on a job's transactions. It always reads committed
// state from the store; there is no cache in front of it.
type StatusReader struct {
	store Store
}

func NewStatusReader(store Store) *StatusReader {
	return &StatusReader{store: store}
}

// GetJobPaymentStatus returns the job's transactions, oldest first, with
// aggregate stats.
func (r *StatusReader) GetJobPaymentStatus(ctx context.Context, jobID JobID) (JobPaymentStatus, error) {
	if _, err := r.store.GetJob(ctx, jobID); err != nil {
		return JobPaymentStatus{}, err
	}
	txs, err := r.store.ListTransactionsByJob(ctx, jobID)
	if err != nil {
		return JobPaymentStatus{}, fmt.Errorf("list transactions for job %s: %w", jobID, err)
	}
	if txs == nil {
		txs = []Transaction{}
	}
	return JobPaymentStatus{JobID: jobID, Transactions: txs, Stats: Summarize(txs)}, nil
}

// Summarize computes PaymentStats over txs.
func Summarize(txs []Transaction) PaymentStats {
	stats := PaymentStats{TotalAmount: decimal.Zero, PaidAmount: decimal.Zero}
	for _, tx := range txs {
		stats.Total++
		if tx.DirectPayment {
			stats.DirectPaymentCount++
		}
		switch tx.Status {
		case StatusPending:
			stats.Pending++
		case StatusApproved:
			stats.Approved++
		case StatusPaid:
			stats.Paid++
			stats.PaidAmount = stats.PaidAmount.Add(tx.Amount)
		case StatusFailed:
			stats.Failed++
		}
		if tx.Status != StatusFailed {
			stats.TotalAmount = stats.TotalAmount.Add(tx.Amount)
		}
	}
	return stats
}
