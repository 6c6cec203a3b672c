package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"rentbill/internal/models"
)

var (
	// ErrPlanNotPayable means the plan is not in a state early payoff can act on
	ErrPlanNotPayable = errors.New("plan is not active or overdue")
	// ErrInstallmentNotPayable means the target installment is processing or terminal
	ErrInstallmentNotPayable = errors.New("installment cannot be paid in its current state")
	// ErrNothingToPay means the plan has no open installments left
	ErrNothingToPay = errors.New("no unpaid installments on plan")
)

// PayoffService charges installments on demand, outside the schedule.
type PayoffService struct {
	db            *gorm.DB
	keys          ProcessorKeys
	ledger        *LedgerService
	notify        *NotificationService
	clientFactory func(TenantPaymentContext) (ProcessorGateway, error)
}

func NewPayoffService(db *gorm.DB, keys ProcessorKeys) *PayoffService {
	return &PayoffService{
		db:            db,
		keys:          keys,
		ledger:        NewLedgerService(db),
		notify:        NewNotificationService(db),
		clientFactory: newProcessorGateway,
	}
}

func (s *PayoffService) loadPayablePlan(planID uint) (*models.InstallmentPlan, ProcessorGateway, error) {
	var plan models.InstallmentPlan
	if err := s.db.First(&plan, planID).Error; err != nil {
		return nil, nil, fmt.Errorf("plan not found: %w", err)
	}
	if plan.Status != models.PlanStatusActive && plan.Status != models.PlanStatusOverdue {
		return nil, nil, ErrPlanNotPayable
	}
	if plan.ProcessorCustomerRef == "" || plan.ProcessorPaymentMethodRef == "" {
		return nil, nil, ErrNoStoredPaymentMethod
	}

	tc := ResolveTenantContext(s.db, plan.TenantID, s.keys)
	gw, err := s.clientFactory(tc)
	if err != nil {
		return nil, nil, err
	}
	return &plan, gw, nil
}

// PayInstallment charges one named installment immediately. Same
// claim/charge/settle sequence as the scheduler, just triggered by a human.
func (s *PayoffService) PayInstallment(ctx context.Context, planID uint, installmentNumber int) (*InstallmentResult, error) {
	plan, gw, err := s.loadPayablePlan(planID)
	if err != nil {
		return nil, err
	}

	var inst models.ScheduledInstallment
	if err := s.db.Where("plan_id = ? AND installment_number = ?", planID, installmentNumber).
		First(&inst).Error; err != nil {
		return nil, fmt.Errorf("installment not found: %w", err)
	}
	if inst.Status != models.InstallmentStatusScheduled && inst.Status != models.InstallmentStatusFailed {
		return nil, ErrInstallmentNotPayable
	}

	claimed, err := ClaimInstallment(s.db, inst.ID,
		[]models.InstallmentStatus{models.InstallmentStatusScheduled, models.InstallmentStatusFailed})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrInstallmentNotPayable
	}

	result := InstallmentResult{InstallmentID: inst.ID}
	charge, err := gw.ChargeOffSession(ctx, OffSessionChargeParams{
		Amount:           inst.Amount,
		Currency:         "usd",
		CustomerRef:      plan.ProcessorCustomerRef,
		PaymentMethodRef: plan.ProcessorPaymentMethodRef,
		Description:      fmt.Sprintf("Rental #%d early payoff of installment %d", inst.RentalID, inst.InstallmentNumber),
		Metadata: map[string]string{
			"rental_id":      fmt.Sprintf("%d", inst.RentalID),
			"installment_id": fmt.Sprintf("%d", inst.ID),
		},
		IdempotencyKey: fmt.Sprintf("payoff-installment-%d-attempt-%d", inst.ID, inst.FailureCount),
	})
	if err != nil {
		reason := ProcessorErrorMessage(err)
		if ferr := MarkInstallmentFailed(s.db, inst.ID, reason, time.Now()); ferr != nil {
			log.Printf("Failed to record payoff failure for installment %d: %v", inst.ID, ferr)
		}
		result.Error = reason
		return &result, nil
	}

	if err := s.settlePaid(plan, []models.ScheduledInstallment{inst}, inst.Amount, charge); err != nil {
		return nil, err
	}
	result.Success = true
	result.ProcessorRef = charge.IntentRef
	return &result, nil
}

// PayRemaining sums every open installment, issues one charge for the
// total, then marks each installment paid individually so the audit trail
// survives the single processor transaction. On processor failure every
// claimed installment reverts; there is no partial commit.
func (s *PayoffService) PayRemaining(ctx context.Context, planID uint) (*InstallmentResult, error) {
	plan, gw, err := s.loadPayablePlan(planID)
	if err != nil {
		return nil, err
	}

	var open []models.ScheduledInstallment
	if err := s.db.Where("plan_id = ? AND status IN ?", planID,
		[]models.InstallmentStatus{models.InstallmentStatusScheduled, models.InstallmentStatusFailed}).
		Order("installment_number asc").Find(&open).Error; err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, ErrNothingToPay
	}

	// Claim everything up front, remembering prior states for the revert.
	prior := make(map[uint]models.InstallmentStatus, len(open))
	var claimed []models.ScheduledInstallment
	for _, inst := range open {
		ok, err := ClaimInstallment(s.db, inst.ID,
			[]models.InstallmentStatus{models.InstallmentStatusScheduled, models.InstallmentStatusFailed})
		if err != nil || !ok {
			s.revertClaims(claimed, prior)
			if err != nil {
				return nil, err
			}
			return nil, ErrInstallmentNotPayable
		}
		prior[inst.ID] = inst.Status
		claimed = append(claimed, inst)
	}

	total := RemainingBalance(open)

	charge, err := gw.ChargeOffSession(ctx, OffSessionChargeParams{
		Amount:           total,
		Currency:         "usd",
		CustomerRef:      plan.ProcessorCustomerRef,
		PaymentMethodRef: plan.ProcessorPaymentMethodRef,
		Description:      fmt.Sprintf("Rental #%d full remaining balance (%d installments)", plan.RentalID, len(open)),
		Metadata: map[string]string{
			"rental_id": fmt.Sprintf("%d", plan.RentalID),
			"plan_id":   fmt.Sprintf("%d", plan.ID),
		},
		// A fresh key per attempt: after a decline the open set is unchanged,
		// so a deterministic key would make the retry a dedup no-op.
		IdempotencyKey: fmt.Sprintf("payoff-plan-%d-%s", plan.ID, uuid.New().String()),
	})
	if err != nil {
		s.revertClaims(claimed, prior)
		return nil, fmt.Errorf("%s: %w", ProcessorErrorMessage(err), err)
	}

	if err := s.settlePaid(plan, claimed, total, charge); err != nil {
		return nil, err
	}

	return &InstallmentResult{Success: true, ProcessorRef: charge.IntentRef}, nil
}

// RemainingBalance sums the amounts of the given open installments.
func RemainingBalance(installments []models.ScheduledInstallment) decimal.Decimal {
	total := decimal.Zero
	for _, inst := range installments {
		total = total.Add(inst.Amount)
	}
	return total
}

func (s *PayoffService) revertClaims(claimed []models.ScheduledInstallment, prior map[uint]models.InstallmentStatus) {
	for _, inst := range claimed {
		if err := RevertInstallment(s.db, inst.ID, prior[inst.ID]); err != nil {
			log.Printf("Failed to revert installment %d after aborted payoff: %v", inst.ID, err)
		}
	}
}

func (s *PayoffService) settlePaid(plan *models.InstallmentPlan, installments []models.ScheduledInstallment, total decimal.Decimal, charge *ChargeResult) error {
	payment := models.Payment{
		RentalID:           plan.RentalID,
		CustomerID:         plan.CustomerID,
		TenantID:           plan.TenantID,
		Amount:             total,
		Method:             "card",
		PaymentType:        models.PaymentTypePayoff,
		Status:             models.PaymentStatusApplied,
		CaptureStatus:      models.CaptureStatusCaptured,
		ProcessorIntentRef: charge.IntentRef,
		Categories:         CategoryInstallment,
	}
	if err := s.db.Create(&payment).Error; err != nil {
		return err
	}
	for _, inst := range installments {
		if _, err := MarkInstallmentPaid(s.db, inst.ID, charge.IntentRef, charge.ChargeRef); err != nil {
			return err
		}
	}
	if err := s.ledger.AppendCharge(s.db, plan.RentalID, CategoryInstallment, total, decimal.Zero, charge.IntentRef); err != nil {
		return err
	}
	s.notify.SendReceipt(plan.CustomerID, plan.RentalID, total, charge.IntentRef)
	return nil
}
