package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"rentbill/internal/models"
)

// Ledger categories used across checkout, scheduling, and refunds.
const (
	CategoryDeposit     = "deposit"
	CategoryFees        = "fees"
	CategoryDelivery    = "delivery"
	CategoryInstallment = "installment"
)

// ErrCheckoutAlreadyPaid means the rental's upfront charge already settled
var ErrCheckoutAlreadyPaid = errors.New("checkout already completed for this rental")

// CheckoutService performs the one external transaction that charges the
// upfront amount and captures a reusable payment-method token.
type CheckoutService struct {
	db            *gorm.DB
	keys          ProcessorKeys
	vault         *VaultService
	ledger        *LedgerService
	notify        *NotificationService
	clientFactory func(TenantPaymentContext) (ProcessorGateway, error)
}

func NewCheckoutService(db *gorm.DB, keys ProcessorKeys) *CheckoutService {
	return &CheckoutService{
		db:            db,
		keys:          keys,
		vault:         NewVaultService(db),
		ledger:        NewLedgerService(db),
		notify:        NewNotificationService(db),
		clientFactory: newProcessorGateway,
	}
}

// StartCheckoutInput carries what the booking surface knows about the payer
type StartCheckoutInput struct {
	PlanID        uint
	CustomerName  string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// StartCheckoutResult is what the caller redirects the payer with
type StartCheckoutResult struct {
	SessionRef  string `json:"session_ref"`
	RedirectURL string `json:"redirect_url"`
	IsExisting  bool   `json:"is_existing"`
}

// StartCheckout ensures a processor customer profile, opens a checkout
// session, and writes the Payment row keyed by the session reference before
// anyone is redirected, so the completion webhook updates that exact row.
func (s *CheckoutService) StartCheckout(ctx context.Context, in StartCheckoutInput) (*StartCheckoutResult, error) {
	var plan models.InstallmentPlan
	if err := s.db.Preload("Rental").First(&plan, in.PlanID).Error; err != nil {
		return nil, fmt.Errorf("plan not found: %w", err)
	}
	if plan.Status != models.PlanStatusPending {
		return nil, ErrCheckoutAlreadyPaid
	}

	tc := ResolveTenantContext(s.db, plan.TenantID, s.keys)
	gw, err := s.clientFactory(tc)
	if err != nil {
		return nil, err
	}

	// Resume an in-flight session instead of opening a second one.
	var pending models.Payment
	err = s.db.Where("rental_id = ? AND payment_type = ? AND status = ?",
		plan.RentalID, models.PaymentTypeUpfront, models.PaymentStatusPending).
		Order("created_at desc").First(&pending).Error
	if err == nil && pending.ProcessorSessionRef != "" {
		existing, gwErr := gw.GetCheckoutSession(ctx, pending.ProcessorSessionRef)
		if gwErr == nil {
			if existing.Completed {
				return nil, ErrCheckoutAlreadyPaid
			}
			if existing.RedirectURL != "" {
				return &StartCheckoutResult{
					SessionRef:  existing.SessionRef,
					RedirectURL: existing.RedirectURL,
					IsExisting:  true,
				}, nil
			}
		}
		// Broken or expired session: drop the local row and start over.
		s.db.Model(&pending).Update("status", models.PaymentStatusCancelled)
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	customerRef, err := s.vault.EnsureProfile(ctx, gw, plan.CustomerID, in.CustomerName, in.CustomerEmail)
	if err != nil {
		return nil, err
	}

	categories := fmt.Sprintf("%s,%s,%s", CategoryDeposit, CategoryFees, CategoryDelivery)
	if plan.Config.ChargeFirstUpfront {
		categories += "," + CategoryInstallment
	}

	session, err := gw.CreateCheckoutSession(ctx, CheckoutSessionParams{
		Amount:      plan.UpfrontAmount,
		Currency:    "usd",
		CustomerRef: customerRef,
		Description: fmt.Sprintf("Rental #%d upfront payment", plan.RentalID),
		SuccessURL:  in.SuccessURL,
		CancelURL:   in.CancelURL,
		Metadata: map[string]string{
			"tenant_id": fmt.Sprintf("%d", plan.TenantID),
			"rental_id": fmt.Sprintf("%d", plan.RentalID),
			"plan_id":   fmt.Sprintf("%d", plan.ID),
		},
		IdempotencyKey: fmt.Sprintf("checkout-%d-%s", plan.ID, uuid.New().String()),
	})
	if err != nil {
		return nil, err
	}

	payment := models.Payment{
		RentalID:            plan.RentalID,
		CustomerID:          plan.CustomerID,
		TenantID:            plan.TenantID,
		Amount:              plan.UpfrontAmount,
		Method:              "card",
		PaymentType:         models.PaymentTypeUpfront,
		Status:              models.PaymentStatusPending,
		ProcessorSessionRef: session.SessionRef,
		Categories:          categories,
	}
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}
		return tx.Model(&plan).Update("processor_customer_ref", customerRef).Error
	}); err != nil {
		return nil, err
	}

	return &StartCheckoutResult{
		SessionRef:  session.SessionRef,
		RedirectURL: session.RedirectURL,
	}, nil
}

// ConfirmCheckout handles the processor's completion signal for a session.
// Locates the Payment written at session creation, activates the plan, and
// when the first installment was folded into the upfront charge, marks it
// paid. Safe to re-deliver.
func (s *CheckoutService) ConfirmCheckout(ctx context.Context, sessionRef string) error {
	var payment models.Payment
	if err := s.db.Where("processor_session_ref = ?", sessionRef).First(&payment).Error; err != nil {
		return fmt.Errorf("no payment recorded for session %s: %w", sessionRef, err)
	}
	if payment.Status == models.PaymentStatusApplied {
		return nil
	}

	var plan models.InstallmentPlan
	if err := s.db.Where("rental_id = ? AND status IN ?", payment.RentalID, nonTerminalPlanStatuses).
		First(&plan).Error; err != nil {
		return fmt.Errorf("no open plan for rental %d: %w", payment.RentalID, err)
	}

	tc := ResolveTenantContext(s.db, plan.TenantID, s.keys)
	gw, err := s.clientFactory(tc)
	if err != nil {
		return err
	}
	session, err := gw.GetCheckoutSession(ctx, sessionRef)
	if err != nil {
		return err
	}
	if !session.Completed {
		return fmt.Errorf("session %s not completed at processor", sessionRef)
	}

	var rental models.Rental
	if err := s.db.First(&rental, payment.RentalID).Error; err != nil {
		return err
	}

	// One transaction covers the status flips and the ledger rows, so a
	// redelivered webhook either sees it all applied or retries it all.
	applied := false
	err = s.db.Transaction(func(tx *gorm.DB) error {
		// Conditional flip: only the delivery that actually moves the
		// payment out of Pending gets to write the settlement rows.
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", payment.ID, models.PaymentStatusPending).
			Updates(map[string]interface{}{
				"status":               models.PaymentStatusApplied,
				"capture_status":       models.CaptureStatusCaptured,
				"processor_intent_ref": session.IntentRef,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		planUpdates := map[string]interface{}{
			"status":       models.PlanStatusActive,
			"upfront_paid": true,
		}
		if session.PaymentMethodRef != "" {
			planUpdates["processor_payment_method_ref"] = session.PaymentMethodRef
		}
		if err := tx.Model(&plan).Updates(planUpdates).Error; err != nil {
			return err
		}

		if err := s.ledgerUpfront(tx, rental, session.IntentRef); err != nil {
			return err
		}

		if plan.Config.ChargeFirstUpfront {
			var first models.ScheduledInstallment
			if err := tx.Where("plan_id = ? AND installment_number = 1", plan.ID).First(&first).Error; err != nil {
				return err
			}
			if _, err := MarkInstallmentPaid(tx, first.ID, session.IntentRef, ""); err != nil {
				return err
			}
			if err := s.ledger.AppendCharge(tx, plan.RentalID, CategoryInstallment, first.Amount, decimal.Zero, session.IntentRef); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if applied {
		s.notify.SendReceipt(payment.CustomerID, payment.RentalID, payment.Amount, session.IntentRef)
	}
	return nil
}

// PlaceSecurityHold pre-authorizes the rental's deposit (or the given
// amount) against the plan's stored payment method without capturing it.
// The rejection cascade and manual refunds release it; nothing is owed, so
// no ledger charge is written. Re-placing while a hold is open returns the
// existing one.
func (s *CheckoutService) PlaceSecurityHold(ctx context.Context, planID uint, amount decimal.Decimal) (*models.Payment, error) {
	var plan models.InstallmentPlan
	if err := s.db.Preload("Rental").First(&plan, planID).Error; err != nil {
		return nil, fmt.Errorf("plan not found: %w", err)
	}
	if plan.Status != models.PlanStatusActive && plan.Status != models.PlanStatusOverdue {
		return nil, ErrPlanNotPayable
	}
	if plan.ProcessorCustomerRef == "" || plan.ProcessorPaymentMethodRef == "" {
		return nil, ErrNoStoredPaymentMethod
	}

	if !amount.IsPositive() {
		amount = plan.Rental.Deposit
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var existing models.Payment
	err := s.db.Where("rental_id = ? AND payment_type = ? AND capture_status = ? AND status = ?",
		plan.RentalID, models.PaymentTypeHold, models.CaptureStatusRequiresCapture, models.PaymentStatusApplied).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	tc := ResolveTenantContext(s.db, plan.TenantID, s.keys)
	gw, err := s.clientFactory(tc)
	if err != nil {
		return nil, err
	}

	charge, err := gw.ChargeOffSession(ctx, OffSessionChargeParams{
		Amount:           amount,
		Currency:         "usd",
		CustomerRef:      plan.ProcessorCustomerRef,
		PaymentMethodRef: plan.ProcessorPaymentMethodRef,
		Description:      fmt.Sprintf("Rental #%d security hold", plan.RentalID),
		Metadata: map[string]string{
			"rental_id": fmt.Sprintf("%d", plan.RentalID),
			"plan_id":   fmt.Sprintf("%d", plan.ID),
		},
		IdempotencyKey: fmt.Sprintf("hold-%d-%s", plan.RentalID, uuid.New().String()),
		Hold:           true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ProcessorErrorMessage(err), err)
	}

	payment := models.Payment{
		RentalID:           plan.RentalID,
		CustomerID:         plan.CustomerID,
		TenantID:           plan.TenantID,
		Amount:             amount,
		Method:             "card",
		PaymentType:        models.PaymentTypeHold,
		Status:             models.PaymentStatusApplied,
		CaptureStatus:      models.CaptureStatusRequiresCapture,
		ProcessorIntentRef: charge.IntentRef,
		Categories:         CategoryDeposit,
	}
	if err := s.db.Create(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// ledgerUpfront records the collected upfront money per category with no
// unpaid residual.
func (s *CheckoutService) ledgerUpfront(db *gorm.DB, rental models.Rental, reference string) error {
	categories := []struct {
		name   string
		amount decimal.Decimal
	}{
		{CategoryDeposit, rental.Deposit},
		{CategoryFees, rental.Fees},
		{CategoryDelivery, rental.DeliveryFee},
	}
	for _, c := range categories {
		if !c.amount.IsPositive() {
			continue
		}
		if err := s.ledger.AppendCharge(db, rental.ID, c.name, c.amount, decimal.Zero, reference); err != nil {
			return err
		}
	}
	return nil
}
