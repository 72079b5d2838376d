/*
scenarios.go - Demo data for local runs and demos

PURPOSE:
  Populates a store with jobs, workers and approved work hour records that
  exercise specific payment paths. Nothing here talks to the partner; the
  outcome of a batch still depends on what the partner answers.

AVAILABLE SCENARIOS:
  single-shift:        one 8h shift at 20.00, registered payer
  unregistered-payer:  payer without a partner debtor id
  missing-merchant:    three workers, one never onboarded
  direct-payout:       three shifts meant for directPaymentRequested
  busy-week:           ten shifts, for overlapping batch runs

HOW SCENARIOS WORK:
 1. Every scenario owns its ids (prefixed with the scenario id)
 2. Saves are upserts, so loading twice is harmless
 3. Existing transactions are left alone; a loaded scenario is not a reset

USAGE:
  server seed --scenario single-shift
  server seed --all

SEE ALSO:
  - cmd/server/commands.go: seed command
*/
package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/securyflex/payment-engine/payment"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// Scenario describes one loadable data set.
type Scenario struct {
	ID          string
	Name        string
	Description string
	OwnerID     string

	jobs    []payment.Job
	workers []payment.Worker
	records []payment.WorkHourRecord
}

// JobIDs returns the jobs the scenario creates.
func (s Scenario) JobIDs() []payment.JobID {
	ids := make([]payment.JobID, len(s.jobs))
	for i, j := range s.jobs {
		ids[i] = j.ID
	}
	return ids
}

// RecordIDs returns the records the scenario creates, in load order.
func (s Scenario) RecordIDs() []payment.RecordID {
	ids := make([]payment.RecordID, len(s.records))
	for i, r := range s.records {
		ids[i] = r.ID
	}
	return ids
}

// Writer is what a store needs to accept demo data. Both SQL stores
// implement it.
type Writer interface {
	SaveJob(ctx context.Context, j payment.Job) error
	SaveWorker(ctx context.Context, w payment.Worker) error
	SaveRecord(ctx context.Context, r payment.WorkHourRecord) error
}

const demoOwner = "owner-demo"

var demoDay = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

// List returns every scenario, in a stable order.
func List() []Scenario {
	return []Scenario{
		singleShift(),
		unregisteredPayer(),
		missingMerchant(),
		directPayout(),
		busyWeek(),
	}
}

// Get returns the scenario with id.
func Get(id string) (Scenario, bool) {
	for _, s := range List() {
		if s.ID == id {
			return s, true
		}
	}
	return Scenario{}, false
}

// Load writes the scenario into w.
func Load(ctx context.Context, w Writer, s Scenario) error {
	for _, j := range s.jobs {
		if err := w.SaveJob(ctx, j); err != nil {
			return fmt.Errorf("scenario %s: save job %s: %w", s.ID, j.ID, err)
		}
	}
	for _, wk := range s.workers {
		if err := w.SaveWorker(ctx, wk); err != nil {
			return fmt.Errorf("scenario %s: save worker %s: %w", s.ID, wk.ID, err)
		}
	}
	for _, r := range s.records {
		if err := w.SaveRecord(ctx, r); err != nil {
			return fmt.Errorf("scenario %s: save record %s: %w", s.ID, r.ID, err)
		}
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func singleShift() Scenario {
	const id = "single-shift"
	job := payment.Job{ID: id + "-job", Title: "Warehouse night watch", OwnerID: demoOwner, DebtorID: "debtor-acme"}
	worker := payment.Worker{ID: id + "-guard", Name: "Sam de Vries", MerchantID: "merchant-sam"}
	return Scenario{
		ID:          id,
		Name:        "Single Shift",
		Description: "One 8h shift at 20.00 billed to a registered payer (160.00)",
		OwnerID:     demoOwner,
		jobs:        []payment.Job{job},
		workers:     []payment.Worker{worker},
		records:     []payment.WorkHourRecord{shift(id+"-rec-1", job.ID, worker.ID, 0, "8", "20")},
	}
}

func unregisteredPayer() Scenario {
	const id = "unregistered-payer"
	job := payment.Job{ID: id + "-job", Title: "Festival gate", OwnerID: demoOwner}
	worker := payment.Worker{ID: id + "-guard", Name: "Noor Bakker", MerchantID: "merchant-noor"}
	return Scenario{
		ID:          id,
		Name:        "Unregistered Payer",
		Description: "Payer has no partner debtor id; eligibility asks for onboarding",
		OwnerID:     demoOwner,
		jobs:        []payment.Job{job},
		workers:     []payment.Worker{worker},
		records: []payment.WorkHourRecord{
			shift(id+"-rec-1", job.ID, worker.ID, 0, "6", "22.50"),
			shift(id+"-rec-2", job.ID, worker.ID, 1, "6", "22.50"),
		},
	}
}

func missingMerchant() Scenario {
	const id = "missing-merchant"
	job := payment.Job{ID: id + "-job", Title: "Office reception", OwnerID: demoOwner, DebtorID: "debtor-globex"}
	workers := []payment.Worker{
		{ID: id + "-guard-1", Name: "Lars Jansen", MerchantID: "merchant-lars"},
		{ID: id + "-guard-2", Name: "Mila Visser"},
		{ID: id + "-guard-3", Name: "Tom Smit", MerchantID: "merchant-tom"},
	}
	var records []payment.WorkHourRecord
	for i, w := range workers {
		records = append(records, shift(fmt.Sprintf("%s-rec-%d", id, i+1), job.ID, w.ID, i, "8", "19.75"))
	}
	return Scenario{
		ID:          id,
		Name:        "Missing Merchant",
		Description: "Three shifts; the second worker has no merchant account and is skipped",
		OwnerID:     demoOwner,
		jobs:        []payment.Job{job},
		workers:     workers,
		records:     records,
	}
}

func directPayout() Scenario {
	const id = "direct-payout"
	job := payment.Job{ID: id + "-job", Title: "Retail store patrol", OwnerID: demoOwner, DebtorID: "debtor-initech"}
	worker := payment.Worker{ID: id + "-guard", Name: "Eva Mulder", MerchantID: "merchant-eva"}
	return Scenario{
		ID:          id,
		Name:        "Direct Payout",
		Description: "Three shifts to run with directPaymentRequested",
		OwnerID:     demoOwner,
		jobs:        []payment.Job{job},
		workers:     []payment.Worker{worker},
		records: []payment.WorkHourRecord{
			shift(id+"-rec-1", job.ID, worker.ID, 0, "8", "21"),
			shift(id+"-rec-2", job.ID, worker.ID, 1, "7.5", "21"),
			shift(id+"-rec-3", job.ID, worker.ID, 2, "4", "24.80"),
		},
	}
}

func busyWeek() Scenario {
	const id = "busy-week"
	job := payment.Job{ID: id + "-job", Title: "Stadium event week", OwnerID: demoOwner, DebtorID: "debtor-umbrella"}
	workers := []payment.Worker{
		{ID: id + "-guard-1", Name: "Daan de Boer", MerchantID: "merchant-daan"},
		{ID: id + "-guard-2", Name: "Sara Peters", MerchantID: "merchant-sara"},
	}
	var records []payment.WorkHourRecord
	for i := 0; i < 10; i++ {
		w := workers[i%len(workers)]
		records = append(records, shift(fmt.Sprintf("%s-rec-%02d", id, i+1), job.ID, w.ID, i/2, "10", "20"))
	}
	return Scenario{
		ID:          id,
		Name:        "Busy Week",
		Description: "Ten shifts; submit overlapping batches to see each billed once",
		OwnerID:     demoOwner,
		jobs:        []payment.Job{job},
		workers:     workers,
		records:     records,
	}
}

func shift(id string, job payment.JobID, worker payment.WorkerID, day int, hours, tariff string) payment.WorkHourRecord {
	return payment.WorkHourRecord{
		ID:          payment.RecordID(id),
		JobID:       job,
		WorkerID:    worker,
		WorkDate:    demoDay.AddDate(0, 0, day),
		Hours:       decimal.RequireFromString(hours),
		Tariff:      decimal.RequireFromString(tariff),
		PlatformFee: decimal.RequireFromString("2.50"),
		Status:      payment.RecordApproved,
	}
}
