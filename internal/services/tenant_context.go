package services

import (
	"os"

	"gorm.io/gorm"

	"rentbill/internal/models"
)

// TenantPaymentContext is the derived processor routing for one tenant.
// It is recomputed before every processor call and never cached or stored.
type TenantPaymentContext struct {
	TenantID           uint
	Mode               models.PaymentMode
	APIKey             string
	MerchantAccountID  string // empty routes to the platform's own account
	OnboardingComplete bool
}

// ProcessorKeys holds the platform-level processor credentials loaded from
// the environment at startup.
type ProcessorKeys struct {
	TestKey string
	LiveKey string
	// SharedTestAccount is the one sandbox merchant account every tenant
	// routes to in test mode.
	SharedTestAccount string
	WebhookSecret     string
}

// LoadProcessorKeys reads processor credentials from the environment
func LoadProcessorKeys() ProcessorKeys {
	return ProcessorKeys{
		TestKey:           os.Getenv("STRIPE_TEST_KEY"),
		LiveKey:           os.Getenv("STRIPE_LIVE_KEY"),
		SharedTestAccount: os.Getenv("STRIPE_TEST_MERCHANT_ACCOUNT"),
		WebhookSecret:     os.Getenv("STRIPE_WEBHOOK_SECRET"),
	}
}

// BuildTenantContext derives the payment context from a tenant row. A nil
// tenant or an unset mode falls back to test mode so a misconfigured tenant
// can never issue live charges.
func BuildTenantContext(tenant *models.Tenant, keys ProcessorKeys) TenantPaymentContext {
	ctx := TenantPaymentContext{
		Mode:   models.PaymentModeTest,
		APIKey: keys.TestKey,
	}
	if tenant == nil {
		return ctx
	}

	ctx.TenantID = tenant.ID
	ctx.OnboardingComplete = tenant.OnboardingComplete

	if tenant.PaymentMode != models.PaymentModeLive {
		// Test mode shares one sandbox merchant account across tenants.
		ctx.MerchantAccountID = keys.SharedTestAccount
		return ctx
	}

	ctx.Mode = models.PaymentModeLive
	ctx.APIKey = keys.LiveKey
	// A live tenant only receives funds directly once onboarding finished;
	// until then charges land on the platform account.
	if tenant.OnboardingComplete && tenant.StripeAccountID != "" {
		ctx.MerchantAccountID = tenant.StripeAccountID
	}
	return ctx
}

// ResolveTenantContext loads the tenant row and derives its payment context.
// Read errors degrade to the test-mode default rather than failing the call.
func ResolveTenantContext(db *gorm.DB, tenantID uint, keys ProcessorKeys) TenantPaymentContext {
	var tenant models.Tenant
	if err := db.First(&tenant, tenantID).Error; err != nil {
		return BuildTenantContext(nil, keys)
	}
	return BuildTenantContext(&tenant, keys)
}
