package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rentbill/internal/models"
)

func TestConfirmCheckoutAppliesOnce(t *testing.T) {
	db := newTestDB(t)
	rental, plan := seedPlan(t, db, models.PlanStatusPending, []models.ScheduledInstallment{
		{Amount: d("150.00"), DueDate: time.Now().AddDate(0, 1, 0), Status: models.InstallmentStatusScheduled},
		{Amount: d("150.00"), DueDate: time.Now().AddDate(0, 2, 0), Status: models.InstallmentStatusScheduled},
	})

	payment := models.Payment{
		RentalID:            rental.ID,
		CustomerID:          1,
		TenantID:            1,
		Amount:              d("350.00"),
		Method:              "card",
		PaymentType:         models.PaymentTypeUpfront,
		Status:              models.PaymentStatusPending,
		ProcessorSessionRef: "cs_1",
		Categories:          "deposit,fees,delivery",
	}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	gw := &mockGateway{sessionResult: &CheckoutSessionResult{
		SessionRef:       "cs_1",
		Completed:        true,
		IntentRef:        "pi_up",
		PaymentMethodRef: "pm_1",
	}}
	svc := NewCheckoutService(db, ProcessorKeys{})
	svc.clientFactory = gw.factory

	for i := 0; i < 2; i++ {
		if err := svc.ConfirmCheckout(context.Background(), "cs_1"); err != nil {
			t.Fatalf("ConfirmCheckout() delivery %d: %v", i+1, err)
		}
	}

	// Upfront money is recorded exactly once no matter how often the
	// completion is delivered.
	var charges []models.LedgerEntry
	if err := db.Where("rental_id = ? AND type = ?", rental.ID, models.LedgerEntryCharge).
		Find(&charges).Error; err != nil {
		t.Fatalf("load charges: %v", err)
	}
	if len(charges) != 3 {
		t.Fatalf("charge rows = %d; want one each for deposit, fees, delivery", len(charges))
	}
	total := decimal.Zero
	for _, c := range charges {
		total = total.Add(c.Amount)
	}
	if !total.Equal(d("350.00")) {
		t.Errorf("charges total %s; want 350.00", total)
	}

	var gotPayment models.Payment
	if err := db.First(&gotPayment, payment.ID).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if gotPayment.Status != models.PaymentStatusApplied || gotPayment.ProcessorIntentRef != "pi_up" {
		t.Errorf("payment = %s/%s; want Applied/pi_up", gotPayment.Status, gotPayment.ProcessorIntentRef)
	}

	var gotPlan models.InstallmentPlan
	if err := db.First(&gotPlan, plan.ID).Error; err != nil {
		t.Fatalf("reload plan: %v", err)
	}
	if gotPlan.Status != models.PlanStatusActive || !gotPlan.UpfrontPaid {
		t.Errorf("plan = %s/upfront_paid=%v; want active/true", gotPlan.Status, gotPlan.UpfrontPaid)
	}
	if gotPlan.ProcessorPaymentMethodRef != "pm_1" {
		t.Errorf("payment method ref = %q; want pm_1", gotPlan.ProcessorPaymentMethodRef)
	}
}

func TestPlaceSecurityHoldAuthorizesWithoutCapture(t *testing.T) {
	db := newTestDB(t)
	rental, plan := seedPlan(t, db, models.PlanStatusActive, nil)

	gw := &mockGateway{chargeResult: &ChargeResult{IntentRef: "pi_hold", Status: "requires_capture"}}
	svc := NewCheckoutService(db, ProcessorKeys{})
	svc.clientFactory = gw.factory

	hold, err := svc.PlaceSecurityHold(context.Background(), plan.ID, decimal.Zero)
	if err != nil {
		t.Fatalf("PlaceSecurityHold() error: %v", err)
	}

	if len(gw.chargeCalls) != 1 {
		t.Fatalf("charge calls = %d; want 1", len(gw.chargeCalls))
	}
	if !gw.chargeCalls[0].Hold {
		t.Error("hold charge must request manual capture")
	}
	if !gw.chargeCalls[0].Amount.Equal(rental.Deposit) {
		t.Errorf("hold amount = %s; want deposit %s", gw.chargeCalls[0].Amount, rental.Deposit)
	}

	if hold.PaymentType != models.PaymentTypeHold || hold.CaptureStatus != models.CaptureStatusRequiresCapture {
		t.Errorf("hold payment = %s/%s; want hold/requires_capture", hold.PaymentType, hold.CaptureStatus)
	}
	if got := ClassifyPayment(*hold); got != ActionReleaseHold {
		t.Errorf("cascade would %s the hold; want release_hold", got)
	}

	// Authorized money is not owed money: no ledger charge.
	var entries int64
	db.Model(&models.LedgerEntry{}).Where("rental_id = ?", rental.ID).Count(&entries)
	if entries != 0 {
		t.Errorf("ledger rows = %d; want 0 for an uncaptured hold", entries)
	}

	// Re-placing returns the open hold instead of stacking a second one.
	again, err := svc.PlaceSecurityHold(context.Background(), plan.ID, decimal.Zero)
	if err != nil {
		t.Fatalf("second PlaceSecurityHold() error: %v", err)
	}
	if again.ID != hold.ID {
		t.Errorf("second call created payment %d; want existing %d", again.ID, hold.ID)
	}
	if len(gw.chargeCalls) != 1 {
		t.Errorf("charge calls = %d after re-place; want still 1", len(gw.chargeCalls))
	}
}
