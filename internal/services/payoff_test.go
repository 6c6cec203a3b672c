package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"rentbill/internal/models"
)

func TestRemainingBalance(t *testing.T) {
	installments := []models.ScheduledInstallment{
		{Amount: d("100.00")},
		{Amount: d("100.00")},
		{Amount: d("105.00")},
	}

	got := RemainingBalance(installments)
	if !got.Equal(d("305.00")) {
		t.Errorf("RemainingBalance() = %s; want 305.00", got)
	}

	if !RemainingBalance(nil).IsZero() {
		t.Error("RemainingBalance(nil) should be zero")
	}
}

func payRemainingFixture(t *testing.T, db *gorm.DB) *models.InstallmentPlan {
	t.Helper()
	lastTry := time.Now().AddDate(0, 0, -2)
	_, plan := seedPlan(t, db, models.PlanStatusActive, []models.ScheduledInstallment{
		{Amount: d("100.00"), DueDate: time.Now().AddDate(0, 0, -10), Status: models.InstallmentStatusFailed, FailureCount: 1, LastAttemptedAt: &lastTry},
		{Amount: d("105.00"), DueDate: time.Now().AddDate(0, 1, 0), Status: models.InstallmentStatusScheduled},
	})
	return plan
}

func TestPayRemainingRevertsOnDecline(t *testing.T) {
	db := newTestDB(t)
	plan := payRemainingFixture(t, db)

	gw := &mockGateway{chargeErr: errors.New("card_declined")}
	svc := NewPayoffService(db, ProcessorKeys{})
	svc.clientFactory = gw.factory

	if _, err := svc.PayRemaining(context.Background(), plan.ID); err == nil {
		t.Fatal("PayRemaining() should surface the declined charge")
	}

	// Every claimed installment is back in its pre-claim status.
	var insts []models.ScheduledInstallment
	if err := db.Where("plan_id = ?", plan.ID).Order("installment_number asc").Find(&insts).Error; err != nil {
		t.Fatalf("reload installments: %v", err)
	}
	if insts[0].Status != models.InstallmentStatusFailed {
		t.Errorf("installment 1 status = %s; want failed", insts[0].Status)
	}
	if insts[1].Status != models.InstallmentStatusScheduled {
		t.Errorf("installment 2 status = %s; want scheduled", insts[1].Status)
	}

	var payments int64
	db.Model(&models.Payment{}).Where("rental_id = ?", plan.RentalID).Count(&payments)
	if payments != 0 {
		t.Errorf("payment rows = %d; want 0 after aborted payoff", payments)
	}
	var entries int64
	db.Model(&models.LedgerEntry{}).Where("rental_id = ?", plan.RentalID).Count(&entries)
	if entries != 0 {
		t.Errorf("ledger rows = %d; want 0 after aborted payoff", entries)
	}
}

func TestPayRemainingRetriesWithFreshIdempotencyKey(t *testing.T) {
	db := newTestDB(t)
	plan := payRemainingFixture(t, db)

	gw := &mockGateway{chargeErr: errors.New("card_declined")}
	svc := NewPayoffService(db, ProcessorKeys{})
	svc.clientFactory = gw.factory

	if _, err := svc.PayRemaining(context.Background(), plan.ID); err == nil {
		t.Fatal("first attempt should fail")
	}

	// The customer fixes the card and retries. The open set is unchanged, so
	// only a per-attempt key lets the retry through processor-side dedup.
	gw.chargeErr = nil
	gw.chargeResult = &ChargeResult{IntentRef: "pi_payoff", ChargeRef: "ch_payoff", Status: "succeeded"}

	result, err := svc.PayRemaining(context.Background(), plan.ID)
	if err != nil {
		t.Fatalf("retry after decline: %v", err)
	}
	if !result.Success || result.ProcessorRef != "pi_payoff" {
		t.Errorf("result = %+v; want success with pi_payoff", result)
	}

	if len(gw.chargeCalls) != 2 {
		t.Fatalf("charge calls = %d; want 2", len(gw.chargeCalls))
	}
	k1, k2 := gw.chargeCalls[0].IdempotencyKey, gw.chargeCalls[1].IdempotencyKey
	if k1 == "" || k2 == "" {
		t.Fatal("idempotency keys must be set")
	}
	if k1 == k2 {
		t.Errorf("retry reused idempotency key %q; a declined attempt must not block the next one", k1)
	}
	if !gw.chargeCalls[1].Amount.Equal(d("205.00")) {
		t.Errorf("charged %s; want 205.00", gw.chargeCalls[1].Amount)
	}

	var got models.InstallmentPlan
	if err := db.First(&got, plan.ID).Error; err != nil {
		t.Fatalf("reload plan: %v", err)
	}
	if got.Status != models.PlanStatusCompleted {
		t.Errorf("plan status = %s; want completed", got.Status)
	}
	if got.PaidInstallments != 2 || !got.TotalPaid.Equal(d("205.00")) {
		t.Errorf("paid = %d/%s; want 2/205.00", got.PaidInstallments, got.TotalPaid)
	}

	var payment models.Payment
	if err := db.Where("rental_id = ? AND payment_type = ?", plan.RentalID, models.PaymentTypePayoff).
		First(&payment).Error; err != nil {
		t.Fatalf("load payoff payment: %v", err)
	}
	if !payment.Amount.Equal(d("205.00")) || payment.ProcessorIntentRef != "pi_payoff" {
		t.Errorf("payment = %s/%s; want 205.00/pi_payoff", payment.Amount, payment.ProcessorIntentRef)
	}

	var entry models.LedgerEntry
	if err := db.Where("rental_id = ? AND type = ?", plan.RentalID, models.LedgerEntryCharge).
		First(&entry).Error; err != nil {
		t.Fatalf("load ledger charge: %v", err)
	}
	if entry.Category != CategoryInstallment || !entry.Amount.Equal(d("205.00")) {
		t.Errorf("ledger charge = %s/%s; want installment/205.00", entry.Category, entry.Amount)
	}
}
