package sqlite

import (
	"context"
	"fmt"

	"github.com/securyflex/payment-engine/payment"
)

// recordStatus reads a record's status, failing when the record is missing.
func (s *Store) recordStatus(ctx context.Context, id payment.RecordID) (payment.RecordStatus, error) {
	var status payment.RecordStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM work_hour_records WHERE id = ?`, id).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("record %s: %w", id, err)
	}
	return status, nil
}

// transactionsFor returns every attempt for a record, oldest first.
func (s *Store) transactionsFor(ctx context.Context, id payment.RecordID) ([]payment.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, selectTransactions+" WHERE work_hour_record_id = ? ORDER BY created_at ASC, rowid ASC", id)
	if err != nil {
		return nil, err
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
