package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"rentbill/internal/models"
)

var (
	// ErrTokenNotOwned means the payment-method token belongs to a different
	// processor customer profile. Cross-tenant token reuse is rejected.
	ErrTokenNotOwned = errors.New("payment method does not belong to this customer")
	// ErrNoStoredPaymentMethod means a plan has no reusable token to charge
	ErrNoStoredPaymentMethod = errors.New("no stored payment method on plan")
)

// PaymentMethodScope selects how far a replacement token propagates
type PaymentMethodScope string

const (
	ScopeSinglePlan   PaymentMethodScope = "plan"
	ScopeAllOpenPlans PaymentMethodScope = "all"
)

// VaultService manages processor customer profiles and stored payment
// method tokens.
type VaultService struct {
	db *gorm.DB
}

func NewVaultService(db *gorm.DB) *VaultService {
	return &VaultService{db: db}
}

// EnsureProfile returns the processor customer ref for a platform customer,
// creating the processor customer lazily on first use. Idempotent: an
// existing ref is returned untouched.
func (s *VaultService) EnsureProfile(ctx context.Context, gw ProcessorGateway, customerID uint, name, email string) (string, error) {
	var profile models.CustomerPaymentProfile
	err := s.db.Where("customer_id = ?", customerID).First(&profile).Error
	if err == nil && profile.ProcessorCustomerRef != "" {
		return profile.ProcessorCustomerRef, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	ref, gwErr := gw.CreateCustomer(ctx, name, email)
	if gwErr != nil {
		return "", gwErr
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = models.CustomerPaymentProfile{CustomerID: customerID, Name: name, Email: email, ProcessorCustomerRef: ref}
		if err := s.db.Create(&profile).Error; err != nil {
			return "", err
		}
	} else {
		profile.Name = name
		profile.Email = email
		profile.ProcessorCustomerRef = ref
		if err := s.db.Save(&profile).Error; err != nil {
			return "", err
		}
	}
	return ref, nil
}

// ReplacePaymentMethodInput names the plan or customer whose stored token
// gets swapped.
type ReplacePaymentMethodInput struct {
	CustomerID  uint
	PlanID      uint // required for ScopeSinglePlan
	NewTokenRef string
	Scope       PaymentMethodScope
}

// ReplacePaymentMethod verifies the new token belongs to the customer's
// processor profile (attaching it when still free-floating), makes it the
// default, and propagates it to one plan or to every open plan.
func (s *VaultService) ReplacePaymentMethod(ctx context.Context, gw ProcessorGateway, in ReplacePaymentMethodInput) error {
	var profile models.CustomerPaymentProfile
	if err := s.db.Where("customer_id = ?", in.CustomerID).First(&profile).Error; err != nil {
		return fmt.Errorf("customer has no payment profile: %w", err)
	}
	if profile.ProcessorCustomerRef == "" {
		return ErrNoStoredPaymentMethod
	}

	info, err := gw.GetPaymentMethod(ctx, in.NewTokenRef)
	if err != nil {
		return err
	}
	if err := VerifyTokenOwnership(info, profile.ProcessorCustomerRef); err != nil {
		return err
	}
	if info.CustomerRef == "" {
		if err := gw.AttachPaymentMethod(ctx, in.NewTokenRef, profile.ProcessorCustomerRef); err != nil {
			return err
		}
	}
	if err := gw.SetDefaultPaymentMethod(ctx, profile.ProcessorCustomerRef, in.NewTokenRef); err != nil {
		return err
	}

	query := s.db.Model(&models.InstallmentPlan{}).Where("customer_id = ?", in.CustomerID)
	switch in.Scope {
	case ScopeSinglePlan:
		query = query.Where("id = ?", in.PlanID)
	default:
		query = query.Where("status IN ?", []models.PlanStatus{models.PlanStatusActive, models.PlanStatusOverdue})
	}
	return query.Update("processor_payment_method_ref", in.NewTokenRef).Error
}

// VerifyTokenOwnership rejects tokens already attached to a different
// processor customer. Unattached tokens pass and get attached by the caller.
func VerifyTokenOwnership(info *PaymentMethodInfo, profileRef string) error {
	if info.CustomerRef != "" && info.CustomerRef != profileRef {
		return ErrTokenNotOwned
	}
	return nil
}
