package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"rentbill/internal/models"
)

// CascadeAction is what the rejection cascade decided to do with a payment
type CascadeAction string

const (
	ActionReleaseHold CascadeAction = "release_hold"
	ActionRefund      CascadeAction = "refund"
	ActionManual      CascadeAction = "pending_manual"
	ActionCancel      CascadeAction = "cancel"
)

// PaymentOutcome reports what happened to one payment during the cascade
type PaymentOutcome struct {
	PaymentID uint            `json:"payment_id"`
	Action    CascadeAction   `json:"action"`
	Amount    decimal.Decimal `json:"amount"`
	Success   bool            `json:"success"`
	RefundRef string          `json:"refund_ref,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// CascadeReport is the aggregate result of unwinding one rental
type CascadeReport struct {
	RentalID        uint             `json:"rental_id"`
	Outcomes        []PaymentOutcome `json:"outcomes"`
	ManualFollowUps int              `json:"manual_follow_ups"`
}

// ClassifyPayment decides how the cascade unwinds a single payment. Money
// with no resolvable processor reference is never silently dropped; it goes
// to a human instead.
func ClassifyPayment(p models.Payment) CascadeAction {
	hasRef := p.ProcessorIntentRef != ""
	switch {
	case p.CaptureStatus == models.CaptureStatusRequiresCapture && hasRef:
		return ActionReleaseHold
	case p.CaptureStatus == models.CaptureStatusCaptured && hasRef:
		return ActionRefund
	case p.Amount.IsPositive() && !hasRef && p.Status != models.PaymentStatusPending:
		return ActionManual
	case p.Amount.IsPositive() && p.Status == models.PaymentStatusApplied:
		return ActionManual
	default:
		return ActionCancel
	}
}

// RefundSplit is one compensating ledger row the cascade writes
type RefundSplit struct {
	Category string
	Amount   decimal.Decimal
}

// SplitRefundByCategory breaks a payment's refund into per-category ledger
// rows. When charge entries reference the payment's intent the original
// charge->category mapping is reused; otherwise the amount splits evenly
// across the payment's target categories, last share absorbing the rounding
// remainder.
func SplitRefundByCategory(p models.Payment, charges []models.LedgerEntry) []RefundSplit {
	var matched []RefundSplit
	matchedTotal := decimal.Zero
	for _, e := range charges {
		if e.Type != models.LedgerEntryCharge || e.Reference == "" || e.Reference != p.ProcessorIntentRef {
			continue
		}
		matched = append(matched, RefundSplit{Category: e.Category, Amount: e.Amount})
		matchedTotal = matchedTotal.Add(e.Amount)
	}
	if len(matched) > 0 && matchedTotal.Equal(p.Amount) {
		return matched
	}

	categories := strings.Split(p.Categories, ",")
	cleaned := categories[:0]
	for _, c := range categories {
		if c = strings.TrimSpace(c); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	if len(cleaned) == 0 {
		cleaned = []string{CategoryInstallment}
	}

	n := int64(len(cleaned))
	share := p.Amount.Div(decimal.NewFromInt(n)).Round(2)
	splits := make([]RefundSplit, 0, n)
	for i, c := range cleaned {
		amount := share
		if i == len(cleaned)-1 {
			amount = p.Amount.Sub(share.Mul(decimal.NewFromInt(n - 1)))
		}
		splits = append(splits, RefundSplit{Category: c, Amount: amount})
	}
	return splits
}

// CascadeService unwinds all money on a rejected or cancelled rental.
type CascadeService struct {
	db            *gorm.DB
	keys          ProcessorKeys
	ledger        *LedgerService
	clientFactory func(TenantPaymentContext) (ProcessorGateway, error)
}

func NewCascadeService(db *gorm.DB, keys ProcessorKeys) *CascadeService {
	return &CascadeService{
		db:            db,
		keys:          keys,
		ledger:        NewLedgerService(db),
		clientFactory: newProcessorGateway,
	}
}

// RejectRental processes every non-terminal payment on the rental, oldest
// first: releases holds, refunds captures, flags the unresolvable for manual
// follow-up. Individual failures never abort the cascade; it always
// completes and reports per-item outcomes. Afterwards the rental is
// cancelled, the vehicle released, the plan and its unpaid installments
// cancelled, and open charges voided.
func (s *CascadeService) RejectRental(ctx context.Context, rentalID uint, reason string) (*CascadeReport, error) {
	var rental models.Rental
	if err := s.db.First(&rental, rentalID).Error; err != nil {
		return nil, fmt.Errorf("rental not found: %w", err)
	}

	var payments []models.Payment
	if err := s.db.Where("rental_id = ?", rentalID).Order("created_at asc, id asc").
		Find(&payments).Error; err != nil {
		return nil, err
	}

	tc := ResolveTenantContext(s.db, rental.TenantID, s.keys)
	gw, gwErr := s.clientFactory(tc)

	report := &CascadeReport{RentalID: rentalID}

	for _, p := range payments {
		if p.Status.IsTerminal() {
			continue
		}

		action := ClassifyPayment(p)
		if gw == nil && (action == ActionReleaseHold || action == ActionRefund) {
			// No processor client for this tenant: everything that needs the
			// processor becomes a manual follow-up.
			log.Printf("Cascade for rental %d: no processor client (%v), payment %d flagged manual", rentalID, gwErr, p.ID)
			action = ActionManual
		}

		outcome := s.execute(ctx, gw, p, action, reason)
		if outcome.Action == ActionManual {
			report.ManualFollowUps++
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	if err := s.closeOut(rentalID, rental.VehicleID); err != nil {
		return report, err
	}

	log.Printf("Cascade for rental %d complete: %d payments, %d manual follow-ups",
		rentalID, len(report.Outcomes), report.ManualFollowUps)
	return report, nil
}

func (s *CascadeService) execute(ctx context.Context, gw ProcessorGateway, p models.Payment, action CascadeAction, reason string) PaymentOutcome {
	outcome := PaymentOutcome{PaymentID: p.ID, Action: action, Amount: p.Amount}
	now := time.Now()

	switch action {
	case ActionReleaseHold:
		if err := gw.CancelHold(ctx, p.ProcessorIntentRef); err != nil {
			return s.downgradeToManual(p, outcome, reason, err)
		}
		s.updatePayment(p.ID, map[string]interface{}{
			"status":              models.PaymentStatusRefunded,
			"capture_status":      models.CaptureStatusCancelled,
			"refund_reason":       reason,
			"refund_processed_at": &now,
		})
		s.compensate(p, p.ProcessorIntentRef)
		outcome.Success = true

	case ActionRefund:
		refundRef, err := gw.CreateRefund(ctx, p.ProcessorIntentRef, p.Amount, reason)
		if err != nil {
			return s.downgradeToManual(p, outcome, reason, err)
		}
		s.updatePayment(p.ID, map[string]interface{}{
			"status":              models.PaymentStatusRefunded,
			"capture_status":      models.CaptureStatusRefunded,
			"refund_amount":       p.Amount,
			"refund_reason":       reason,
			"refund_ref":          refundRef,
			"refund_processed_at": &now,
		})
		s.compensate(p, refundRef)
		outcome.Success = true
		outcome.RefundRef = refundRef

	case ActionManual:
		s.updatePayment(p.ID, map[string]interface{}{
			"status":        models.PaymentStatusPendingManual,
			"refund_reason": reason,
		})
		outcome.Success = true

	default:
		s.updatePayment(p.ID, map[string]interface{}{
			"status":         models.PaymentStatusCancelled,
			"capture_status": models.CaptureStatusCancelled,
		})
		outcome.Success = true
	}

	return outcome
}

func (s *CascadeService) downgradeToManual(p models.Payment, outcome PaymentOutcome, reason string, err error) PaymentOutcome {
	log.Printf("Cascade: payment %d could not be settled at processor: %v", p.ID, err)
	s.updatePayment(p.ID, map[string]interface{}{
		"status":        models.PaymentStatusPendingManual,
		"refund_reason": reason,
	})
	outcome.Action = ActionManual
	outcome.Error = ProcessorErrorMessage(err)
	return outcome
}

func (s *CascadeService) updatePayment(id uint, updates map[string]interface{}) {
	if err := s.db.Model(&models.Payment{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		log.Printf("Cascade: failed to update payment %d: %v", id, err)
	}
}

// compensate writes the Refund ledger rows mirroring a refunded or released
// payment, preserving the original charge history.
func (s *CascadeService) compensate(p models.Payment, reference string) {
	var charges []models.LedgerEntry
	if err := s.db.Where("rental_id = ? AND type = ?", p.RentalID, models.LedgerEntryCharge).
		Find(&charges).Error; err != nil {
		log.Printf("Cascade: failed to load charges for rental %d: %v", p.RentalID, err)
		charges = nil
	}
	for _, split := range SplitRefundByCategory(p, charges) {
		if err := s.ledger.AppendRefund(s.db, p.RentalID, split.Category, split.Amount, reference); err != nil {
			log.Printf("Cascade: failed to append refund ledger row for rental %d: %v", p.RentalID, err)
		}
	}
}

// closeOut cancels the rental, releases the vehicle, voids open charges, and
// cancels the plan with its unpaid installments.
func (s *CascadeService) closeOut(rentalID, vehicleID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Rental{}).Where("id = ?", rentalID).
			Update("status", models.RentalStatusCancelled).Error; err != nil {
			return err
		}
		if vehicleID != 0 {
			if err := tx.Model(&models.Vehicle{}).Where("id = ?", vehicleID).
				Update("status", models.VehicleStatusAvailable).Error; err != nil {
				return err
			}
		}

		// Still-unpaid charges stop being owed; rows stay for history.
		if err := tx.Model(&models.LedgerEntry{}).
			Where("rental_id = ? AND type = ? AND remaining_amount > 0", rentalID, models.LedgerEntryCharge).
			Update("voided", true).Error; err != nil {
			return err
		}

		var plan models.InstallmentPlan
		err := tx.Where("rental_id = ? AND status IN ?", rentalID, nonTerminalPlanStatuses).First(&plan).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		if err := tx.Model(&models.ScheduledInstallment{}).
			Where("plan_id = ? AND status <> ?", plan.ID, models.InstallmentStatusPaid).
			Update("status", models.InstallmentStatusCancelled).Error; err != nil {
			return err
		}
		return tx.Model(&plan).Update("status", models.PlanStatusCancelled).Error
	})
}
