package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rentbill/internal/models"
)

// newTestDB opens an isolated in-memory database migrated to the full
// schema. A single connection pins every query to the one connection the
// in-memory database lives on.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

type refundCall struct {
	intentRef string
	amount    decimal.Decimal
}

// mockGateway implements ProcessorGateway with canned results and records
// every mutating call.
type mockGateway struct {
	chargeResult *ChargeResult
	chargeErr    error

	sessionResult *CheckoutSessionResult
	sessionErr    error

	refundRef string
	refundErr error

	cancelHoldErr error

	paymentMethod *PaymentMethodInfo

	chargeCalls []OffSessionChargeParams
	refundCalls []refundCall
	cancelCalls []string
}

// factory plugs the mock in as a service's client factory.
func (m *mockGateway) factory(TenantPaymentContext) (ProcessorGateway, error) {
	return m, nil
}

func (m *mockGateway) CreateCustomer(ctx context.Context, name, email string) (string, error) {
	return "cus_test", nil
}

func (m *mockGateway) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (*CheckoutSessionResult, error) {
	if m.sessionErr != nil {
		return nil, m.sessionErr
	}
	return m.sessionResult, nil
}

func (m *mockGateway) GetCheckoutSession(ctx context.Context, sessionRef string) (*CheckoutSessionResult, error) {
	if m.sessionErr != nil {
		return nil, m.sessionErr
	}
	return m.sessionResult, nil
}

func (m *mockGateway) ChargeOffSession(ctx context.Context, p OffSessionChargeParams) (*ChargeResult, error) {
	m.chargeCalls = append(m.chargeCalls, p)
	if m.chargeErr != nil {
		return nil, m.chargeErr
	}
	return m.chargeResult, nil
}

func (m *mockGateway) CancelHold(ctx context.Context, intentRef string) error {
	m.cancelCalls = append(m.cancelCalls, intentRef)
	return m.cancelHoldErr
}

func (m *mockGateway) CreateRefund(ctx context.Context, intentRef string, amount decimal.Decimal, reason string) (string, error) {
	m.refundCalls = append(m.refundCalls, refundCall{intentRef: intentRef, amount: amount})
	if m.refundErr != nil {
		return "", m.refundErr
	}
	if m.refundRef == "" {
		return "re_test", nil
	}
	return m.refundRef, nil
}

func (m *mockGateway) GetPaymentMethod(ctx context.Context, ref string) (*PaymentMethodInfo, error) {
	if m.paymentMethod != nil {
		return m.paymentMethod, nil
	}
	return &PaymentMethodInfo{Ref: ref, CustomerRef: "cus_test"}, nil
}

func (m *mockGateway) AttachPaymentMethod(ctx context.Context, ref, customerRef string) error {
	return nil
}

func (m *mockGateway) SetDefaultPaymentMethod(ctx context.Context, customerRef, ref string) error {
	return nil
}

// seedPlan creates a vehicle, its rental (deposit 200, fees 100, delivery
// 50, rental total 300), and a plan with stored processor refs in the given
// status, attaching the provided installments in order.
func seedPlan(t *testing.T, db *gorm.DB, status models.PlanStatus, installments []models.ScheduledInstallment) (*models.Rental, *models.InstallmentPlan) {
	t.Helper()

	vehicle := models.Vehicle{TenantID: 1, Label: "van-7", Status: models.VehicleStatusRented}
	if err := db.Create(&vehicle).Error; err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}
	rental := models.Rental{
		TenantID:    1,
		CustomerID:  1,
		VehicleID:   vehicle.ID,
		Status:      models.RentalStatusActive,
		Deposit:     d("200.00"),
		Fees:        d("100.00"),
		DeliveryFee: d("50.00"),
		RentalTotal: d("300.00"),
	}
	if err := db.Create(&rental).Error; err != nil {
		t.Fatalf("seed rental: %v", err)
	}

	plan := models.InstallmentPlan{
		RentalID:                  rental.ID,
		TenantID:                  1,
		CustomerID:                1,
		PlanType:                  models.PlanTypeMonthly,
		NumberOfInstallments:      len(installments),
		TotalInstallable:          rental.RentalTotal,
		TotalPaid:                 decimal.Zero,
		UpfrontAmount:             rental.UpfrontAmount(),
		Status:                    status,
		ProcessorCustomerRef:      "cus_test",
		ProcessorPaymentMethodRef: "pm_test",
		Config: models.PlanConfig{
			WhatGetsSplit:     models.SplitRentalTotal,
			MaxRetryAttempts:  3,
			RetryIntervalDays: 1,
		},
	}
	if err := db.Create(&plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}

	for i := range installments {
		installments[i].PlanID = plan.ID
		installments[i].RentalID = rental.ID
		installments[i].CustomerID = 1
		installments[i].TenantID = 1
		if installments[i].InstallmentNumber == 0 {
			installments[i].InstallmentNumber = i + 1
		}
		if err := db.Create(&installments[i]).Error; err != nil {
			t.Fatalf("seed installment %d: %v", i+1, err)
		}
	}

	return &rental, &plan
}
