package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"rentbill/internal/models"
)

// schedulerLockKey guards a batch run. Best effort: correctness still rests
// on the per-installment claim, the lock just keeps two worker ticks from
// burning through the same batch.
const schedulerLockKey = "rentbill:due-charge-run"

// InstallmentResult reports the outcome for one processed installment
type InstallmentResult struct {
	InstallmentID uint   `json:"installmentId"`
	Success       bool   `json:"success"`
	ProcessorRef  string `json:"processorRef,omitempty"`
	Error         string `json:"error,omitempty"`
}

// RunReport summarizes one scheduler pass
type RunReport struct {
	Processed  int                 `json:"processed"`
	Successful int                 `json:"successful"`
	Failed     int                 `json:"failed"`
	DueCount   int                 `json:"dueCount"`
	RetryCount int                 `json:"retryCount"`
	Results    []InstallmentResult `json:"results"`
}

// SchedulerService charges due and retry-eligible installments off-session.
type SchedulerService struct {
	db     *gorm.DB
	keys   ProcessorKeys
	cache  *RedisCache
	ledger *LedgerService
	notify *NotificationService
}

// NewSchedulerService builds the processor. cache may be nil; the run lock
// is then skipped.
func NewSchedulerService(db *gorm.DB, keys ProcessorKeys, cache *RedisCache) *SchedulerService {
	return &SchedulerService{
		db:     db,
		keys:   keys,
		cache:  cache,
		ledger: NewLedgerService(db),
		notify: NewNotificationService(db),
	}
}

// DueForCharge reports whether a scheduled installment's due date (plus the
// plan's grace period) has arrived.
func DueForCharge(inst models.ScheduledInstallment, cfg models.PlanConfig, now time.Time) bool {
	if inst.Status != models.InstallmentStatusScheduled {
		return false
	}
	actionable := inst.DueDate.AddDate(0, 0, cfg.GracePeriodDays)
	return !now.Before(actionable)
}

// SelectChargeable picks the union of due scheduled installments and
// retry-eligible failed ones from candidates whose plan is open,
// de-duplicated by id and ordered by due date. Returns the selection plus
// how many came from each bucket.
func SelectChargeable(candidates []models.ScheduledInstallment, now time.Time) (selected []models.ScheduledInstallment, dueCount, retryCount int) {
	seen := make(map[uint]bool)
	for _, inst := range candidates {
		if seen[inst.ID] {
			continue
		}
		planStatus := inst.Plan.Status
		if planStatus != models.PlanStatusActive && planStatus != models.PlanStatusOverdue {
			continue
		}
		switch {
		case DueForCharge(inst, inst.Plan.Config, now):
			dueCount++
		case inst.RetryEligible(inst.Plan.Config, now):
			retryCount++
		default:
			continue
		}
		seen[inst.ID] = true
		selected = append(selected, inst)
	}
	sort.Slice(selected, func(i, j int) bool {
		return selected[i].DueDate.Before(selected[j].DueDate)
	})
	return selected, dueCount, retryCount
}

// RunDueCharges executes one scheduler pass: select, claim, charge, settle.
// Failures never abort the batch; every installment gets its own outcome.
func (s *SchedulerService) RunDueCharges(ctx context.Context, now time.Time) (*RunReport, error) {
	if s.cache != nil {
		ok, err := s.cache.AcquireLock(ctx, schedulerLockKey, 10*time.Minute)
		if err != nil {
			log.Printf("Scheduler lock unavailable, proceeding without it: %v", err)
		} else if !ok {
			log.Println("Another due-charge run is in progress, skipping")
			return &RunReport{}, nil
		} else {
			defer func() {
				if err := s.cache.ReleaseLock(context.Background(), schedulerLockKey); err != nil {
					log.Printf("Failed to release scheduler lock: %v", err)
				}
			}()
		}
	}

	var candidates []models.ScheduledInstallment
	err := s.db.Preload("Plan").
		Where("status = ? AND due_date <= ?", models.InstallmentStatusScheduled, now).
		Or("status = ?", models.InstallmentStatusFailed).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load due installments: %w", err)
	}

	selected, dueCount, retryCount := SelectChargeable(candidates, now)

	report := &RunReport{
		DueCount:   dueCount,
		RetryCount: retryCount,
		Results:    make([]InstallmentResult, 0, len(selected)),
	}

	for _, inst := range selected {
		if ctx.Err() != nil {
			break
		}
		result := s.processOne(ctx, inst, now)
		report.Processed++
		if result.Success {
			report.Successful++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, result)
	}

	log.Printf("Due-charge run: %d processed, %d successful, %d failed (%d due, %d retries)",
		report.Processed, report.Successful, report.Failed, report.DueCount, report.RetryCount)
	return report, nil
}

// processOne runs the claim -> charge -> settle sequence for a single
// installment. The claim closes the race window before any network call.
func (s *SchedulerService) processOne(ctx context.Context, inst models.ScheduledInstallment, now time.Time) InstallmentResult {
	result := InstallmentResult{InstallmentID: inst.ID}

	claimed, err := ClaimInstallment(s.db, inst.ID,
		[]models.InstallmentStatus{models.InstallmentStatusScheduled, models.InstallmentStatusFailed})
	if err != nil {
		result.Error = fmt.Sprintf("claim failed: %v", err)
		return result
	}
	if !claimed {
		// Another run got here first.
		result.Error = "already being processed"
		return result
	}

	plan := inst.Plan
	if plan.ProcessorCustomerRef == "" || plan.ProcessorPaymentMethodRef == "" {
		s.settleFailure(inst, ErrNoStoredPaymentMethod.Error(), now)
		result.Error = ErrNoStoredPaymentMethod.Error()
		return result
	}

	// Tenant context is resolved fresh for every charge, never cached.
	tc := ResolveTenantContext(s.db, inst.TenantID, s.keys)
	gw, err := NewProcessorClient(tc)
	if err != nil {
		s.settleFailure(inst, ProcessorErrorMessage(err), now)
		result.Error = ProcessorErrorMessage(err)
		return result
	}

	charge, err := gw.ChargeOffSession(ctx, OffSessionChargeParams{
		Amount:           inst.Amount,
		Currency:         "usd",
		CustomerRef:      plan.ProcessorCustomerRef,
		PaymentMethodRef: plan.ProcessorPaymentMethodRef,
		Description:      fmt.Sprintf("Rental #%d installment %d/%d", inst.RentalID, inst.InstallmentNumber, plan.NumberOfInstallments),
		Metadata: map[string]string{
			"tenant_id":      fmt.Sprintf("%d", inst.TenantID),
			"rental_id":      fmt.Sprintf("%d", inst.RentalID),
			"installment_id": fmt.Sprintf("%d", inst.ID),
		},
		// Keyed by attempt: an ambiguous outcome retried with the same key
		// returns the original intent instead of charging twice.
		IdempotencyKey: fmt.Sprintf("installment-%d-attempt-%d", inst.ID, inst.FailureCount),
	})
	if err != nil {
		reason := ProcessorErrorMessage(err)
		s.settleFailure(inst, reason, now)
		result.Error = reason
		return result
	}

	if err := s.settleSuccess(inst, charge); err != nil {
		// Money moved but local settlement failed; surface loudly, never
		// attempt a compensating charge or refund.
		log.Printf("Installment %d charged (%s) but settlement failed: %v", inst.ID, charge.IntentRef, err)
		result.Error = fmt.Sprintf("charged but settlement failed: %v", err)
		result.ProcessorRef = charge.IntentRef
		return result
	}

	result.Success = true
	result.ProcessorRef = charge.IntentRef
	return result
}

func (s *SchedulerService) settleSuccess(inst models.ScheduledInstallment, charge *ChargeResult) error {
	payment := models.Payment{
		RentalID:           inst.RentalID,
		CustomerID:         inst.CustomerID,
		TenantID:           inst.TenantID,
		Amount:             inst.Amount,
		Method:             "card",
		PaymentType:        models.PaymentTypeInstallment,
		Status:             models.PaymentStatusApplied,
		CaptureStatus:      models.CaptureStatusCaptured,
		ProcessorIntentRef: charge.IntentRef,
		Categories:         CategoryInstallment,
	}
	if err := s.db.Create(&payment).Error; err != nil {
		return err
	}
	if _, err := MarkInstallmentPaid(s.db, inst.ID, charge.IntentRef, charge.ChargeRef); err != nil {
		return err
	}
	if err := s.ledger.AppendCharge(s.db, inst.RentalID, CategoryInstallment, inst.Amount, decimal.Zero, charge.IntentRef); err != nil {
		return err
	}
	s.notify.SendReceipt(inst.CustomerID, inst.RentalID, inst.Amount, charge.IntentRef)
	return nil
}

func (s *SchedulerService) settleFailure(inst models.ScheduledInstallment, reason string, now time.Time) {
	if err := MarkInstallmentFailed(s.db, inst.ID, reason, now); err != nil {
		log.Printf("Failed to record failure for installment %d: %v", inst.ID, err)
		return
	}
	s.notify.SendPaymentFailure(inst.CustomerID, inst.RentalID, inst.Amount, reason)
}
