package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"rentbill/internal/models"
)

func TestBuildTenantContext(t *testing.T) {
	keys := ProcessorKeys{
		TestKey:           "sk_test_platform",
		LiveKey:           "sk_live_platform",
		SharedTestAccount: "acct_sandbox",
	}

	tests := []struct {
		name            string
		tenant          *models.Tenant
		wantMode        models.PaymentMode
		wantKey         string
		wantMerchantAcc string
	}{
		{
			name:            "nil tenant falls back to test mode",
			tenant:          nil,
			wantMode:        models.PaymentModeTest,
			wantKey:         "sk_test_platform",
			wantMerchantAcc: "",
		},
		{
			name:            "unset payment mode defaults to test",
			tenant:          &models.Tenant{Name: "fresh"},
			wantMode:        models.PaymentModeTest,
			wantKey:         "sk_test_platform",
			wantMerchantAcc: "acct_sandbox",
		},
		{
			name: "explicit test mode shares the sandbox account",
			tenant: &models.Tenant{
				Name:        "testing",
				PaymentMode: models.PaymentModeTest,
			},
			wantMode:        models.PaymentModeTest,
			wantKey:         "sk_test_platform",
			wantMerchantAcc: "acct_sandbox",
		},
		{
			name: "live and onboarded uses own sub-account",
			tenant: &models.Tenant{
				Name:               "ready",
				PaymentMode:        models.PaymentModeLive,
				StripeAccountID:    "acct_tenant_1",
				OnboardingComplete: true,
			},
			wantMode:        models.PaymentModeLive,
			wantKey:         "sk_live_platform",
			wantMerchantAcc: "acct_tenant_1",
		},
		{
			name: "live but not onboarded charges on the platform account",
			tenant: &models.Tenant{
				Name:            "half-set-up",
				PaymentMode:     models.PaymentModeLive,
				StripeAccountID: "acct_tenant_2",
			},
			wantMode:        models.PaymentModeLive,
			wantKey:         "sk_live_platform",
			wantMerchantAcc: "",
		},
		{
			name: "live onboarded but missing account id stays on platform",
			tenant: &models.Tenant{
				Name:               "no-account",
				PaymentMode:        models.PaymentModeLive,
				OnboardingComplete: true,
			},
			wantMode:        models.PaymentModeLive,
			wantKey:         "sk_live_platform",
			wantMerchantAcc: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildTenantContext(tt.tenant, keys)
			assert.Equal(t, tt.wantMode, got.Mode)
			assert.Equal(t, tt.wantKey, got.APIKey)
			assert.Equal(t, tt.wantMerchantAcc, got.MerchantAccountID)
		})
	}
}
