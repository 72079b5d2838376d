// Package store provides an in-memory payment.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/securyflex/payment-engine/payment"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in maps behind one mutex. WithTx holds the mutex
// for the whole unit and restores a snapshot on error.
type Memory struct {
	mu sync.Mutex
	st *state

	// FailRecordUpdates makes SetRecordStatus fail, for exercising rollback.
	FailRecordUpdates error
}

type state struct {
	jobs    map[payment.JobID]payment.Job
	workers map[payment.WorkerID]payment.Worker
	records map[payment.RecordID]payment.WorkHourRecord
	txs     map[payment.TransactionID]payment.Transaction
	order   []payment.TransactionID
}

func NewMemory() *Memory {
	return &Memory{st: &state{
		jobs:    make(map[payment.JobID]payment.Job),
		workers: make(map[payment.WorkerID]payment.Worker),
		records: make(map[payment.RecordID]payment.WorkHourRecord),
		txs:     make(map[payment.TransactionID]payment.Transaction),
	}}
}

// SaveJob inserts or replaces a job.
func (m *Memory) SaveJob(j payment.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.jobs[j.ID] = j
}

// SaveWorker inserts or replaces a worker.
func (m *Memory) SaveWorker(w payment.Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.workers[w.ID] = w
}

// SaveRecord inserts or replaces a work hour record.
func (m *Memory) SaveRecord(r payment.WorkHourRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.records[r.ID] = r
}

// Record returns a record as currently stored.
func (m *Memory) Record(id payment.RecordID) (payment.WorkHourRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.st.records[id]
	return r, ok
}

// Transactions returns every transaction in insertion order.
func (m *Memory) Transactions() []payment.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]payment.Transaction, 0, len(m.st.order))
	for _, id := range m.st.order {
		out = append(out, m.st.txs[id])
	}
	return out
}

func (m *Memory) GetJob(_ context.Context, id payment.JobID) (payment.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getJob(id)
}

func (m *Memory) LoadRecords(_ context.Context, ids []payment.RecordID) ([]payment.RecordContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.loadRecords(ids), nil
}

func (m *Memory) ListUnbilledRecords(_ context.Context, jobID payment.JobID) ([]payment.WorkHourRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listUnbilled(jobID), nil
}

func (m *Memory) SetRecordStatus(_ context.Context, id payment.RecordID, from, to payment.RecordStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRecordUpdates != nil {
		return m.FailRecordUpdates
	}
	return m.st.setRecordStatus(id, from, to)
}

func (m *Memory) InsertTransaction(_ context.Context, tx payment.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insert(tx)
}

func (m *Memory) GetTransaction(_ context.Context, id payment.TransactionID) (payment.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.get(id)
}

func (m *Memory) UpdateTransactionStatus(_ context.Context, id payment.TransactionID, from, to payment.Status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updateStatus(id, from, to, reason)
}

func (m *Memory) ListTransactionsByJob(_ context.Context, jobID payment.JobID) ([]payment.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listByJob(jobID), nil
}

// WithTx runs fn with exclusive access. On error all writes are undone.
func (m *Memory) WithTx(ctx context.Context, fn func(payment.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&memTx{m: m}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// memTx is the Store handed to WithTx callbacks; the mutex is already held.
type memTx struct {
	m *Memory
}

func (t *memTx) GetJob(_ context.Context, id payment.JobID) (payment.Job, error) {
	return t.m.st.getJob(id)
}

func (t *memTx) LoadRecords(_ context.Context, ids []payment.RecordID) ([]payment.RecordContext, error) {
	return t.m.st.loadRecords(ids), nil
}

func (t *memTx) ListUnbilledRecords(_ context.Context, jobID payment.JobID) ([]payment.WorkHourRecord, error) {
	return t.m.st.listUnbilled(jobID), nil
}

func (t *memTx) SetRecordStatus(_ context.Context, id payment.RecordID, from, to payment.RecordStatus) error {
	if t.m.FailRecordUpdates != nil {
		return t.m.FailRecordUpdates
	}
	return t.m.st.setRecordStatus(id, from, to)
}

func (t *memTx) InsertTransaction(_ context.Context, tx payment.Transaction) error {
	return t.m.st.insert(tx)
}

func (t *memTx) GetTransaction(_ context.Context, id payment.TransactionID) (payment.Transaction, error) {
	return t.m.st.get(id)
}

func (t *memTx) UpdateTransactionStatus(_ context.Context, id payment.TransactionID, from, to payment.Status, reason string) error {
	return t.m.st.updateStatus(id, from, to, reason)
}

func (t *memTx) ListTransactionsByJob(_ context.Context, jobID payment.JobID) ([]payment.Transaction, error) {
	return t.m.st.listByJob(jobID), nil
}

// =============================================================================
// STATE - unlocked operations
// =============================================================================

func (s *state) clone() *state {
	c := &state{
		jobs:    make(map[payment.JobID]payment.Job, len(s.jobs)),
		workers: make(map[payment.WorkerID]payment.Worker, len(s.workers)),
		records: make(map[payment.RecordID]payment.WorkHourRecord, len(s.records)),
		txs:     make(map[payment.TransactionID]payment.Transaction, len(s.txs)),
		order:   append([]payment.TransactionID(nil), s.order...),
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	for k, v := range s.workers {
		c.workers[k] = v
	}
	for k, v := range s.records {
		c.records[k] = v
	}
	for k, v := range s.txs {
		c.txs[k] = v
	}
	return c
}

func (s *state) getJob(id payment.JobID) (payment.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return payment.Job{}, payment.ErrJobNotFound
	}
	return j, nil
}

func (s *state) activeFor(id payment.RecordID) payment.TransactionID {
	for _, txID := range s.order {
		tx := s.txs[txID]
		if tx.RecordID == id && tx.Status.BlocksRebilling() {
			return tx.ID
		}
	}
	return ""
}

func (s *state) loadRecords(ids []payment.RecordID) []payment.RecordContext {
	var out []payment.RecordContext
	for _, id := range ids {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		out = append(out, payment.RecordContext{
			Record:              rec,
			MerchantID:          s.workers[rec.WorkerID].MerchantID,
			ActiveTransactionID: s.activeFor(id),
		})
	}
	return out
}

func (s *state) listUnbilled(jobID payment.JobID) []payment.WorkHourRecord {
	var out []payment.WorkHourRecord
	for _, rec := range s.records {
		if rec.JobID == jobID && rec.Status == payment.RecordApproved && s.activeFor(rec.ID) == "" {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) setRecordStatus(id payment.RecordID, from, to payment.RecordStatus) error {
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("work hour record %s not found", id)
	}
	if rec.Status != from {
		return payment.ErrConcurrentModification
	}
	rec.Status = to
	s.records[id] = rec
	return nil
}

func (s *state) insert(tx payment.Transaction) error {
	if _, ok := s.records[tx.RecordID]; !ok {
		return fmt.Errorf("work hour record %s not found", tx.RecordID)
	}
	if _, ok := s.txs[tx.ID]; ok {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	if tx.Status.BlocksRebilling() && s.activeFor(tx.RecordID) != "" {
		return payment.ErrDuplicateActiveTransaction
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
		tx.UpdatedAt = tx.CreatedAt
	}
	s.txs[tx.ID] = tx
	s.order = append(s.order, tx.ID)
	return nil
}

func (s *state) get(id payment.TransactionID) (payment.Transaction, error) {
	tx, ok := s.txs[id]
	if !ok {
		return payment.Transaction{}, payment.ErrTransactionNotFound
	}
	return tx, nil
}

func (s *state) updateStatus(id payment.TransactionID, from, to payment.Status, reason string) error {
	tx, ok := s.txs[id]
	if !ok {
		return payment.ErrTransactionNotFound
	}
	if tx.Status != from {
		return payment.ErrConcurrentModification
	}
	tx.Status = to
	if reason != "" {
		tx.FailureReason = reason
	}
	tx.UpdatedAt = time.Now().UTC()
	s.txs[id] = tx
	return nil
}

func (s *state) listByJob(jobID payment.JobID) []payment.Transaction {
	var out []payment.Transaction
	for _, id := range s.order {
		if tx := s.txs[id]; tx.JobID == jobID {
			out = append(out, tx)
		}
	}
	return out
}
