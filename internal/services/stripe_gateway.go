package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/client"
)

// CheckoutSessionParams describes the single external transaction that
// charges the upfront amount and stores a reusable payment method.
type CheckoutSessionParams struct {
	Amount         decimal.Decimal
	Currency       string
	CustomerRef    string
	Description    string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
}

// CheckoutSessionResult is the subset of a processor checkout session the
// billing engine cares about.
type CheckoutSessionResult struct {
	SessionRef       string
	RedirectURL      string
	IntentRef        string
	PaymentMethodRef string
	Completed        bool
}

// OffSessionChargeParams describes a merchant-initiated charge against a
// stored payment method, or a manual-capture hold when Hold is set.
type OffSessionChargeParams struct {
	Amount           decimal.Decimal
	Currency         string
	CustomerRef      string
	PaymentMethodRef string
	Description      string
	Metadata         map[string]string
	IdempotencyKey   string
	Hold             bool
}

// ChargeResult reports the processor references of a completed charge
type ChargeResult struct {
	IntentRef string
	ChargeRef string
	Status    string
}

// PaymentMethodInfo is what the vault needs to verify token ownership
type PaymentMethodInfo struct {
	Ref         string
	CustomerRef string
	Brand       string
	Last4       string
}

// ProcessorGateway is the payment-processor surface consumed by the billing
// engine. Implementations carry the resolved tenant context; callers build a
// fresh one per job via NewProcessorClient.
type ProcessorGateway interface {
	CreateCustomer(ctx context.Context, name, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (*CheckoutSessionResult, error)
	GetCheckoutSession(ctx context.Context, sessionRef string) (*CheckoutSessionResult, error)
	ChargeOffSession(ctx context.Context, p OffSessionChargeParams) (*ChargeResult, error)
	CancelHold(ctx context.Context, intentRef string) error
	CreateRefund(ctx context.Context, intentRef string, amount decimal.Decimal, reason string) (string, error)
	GetPaymentMethod(ctx context.Context, ref string) (*PaymentMethodInfo, error)
	AttachPaymentMethod(ctx context.Context, ref, customerRef string) error
	SetDefaultPaymentMethod(ctx context.Context, customerRef, ref string) error
}

// StripeGateway implements ProcessorGateway against Stripe. Every request
// carries the tenant's merchant sub-account (when set) so funds route to the
// right account.
type StripeGateway struct {
	sc              *client.API
	merchantAccount string
}

// NewProcessorClient builds a gateway from a freshly resolved tenant
// context. No client state is shared across calls or tenants.
func NewProcessorClient(tc TenantPaymentContext) (*StripeGateway, error) {
	if tc.APIKey == "" {
		return nil, ErrProcessorNotConfigured
	}
	sc := &client.API{}
	sc.Init(tc.APIKey, nil)
	return &StripeGateway{sc: sc, merchantAccount: tc.MerchantAccountID}, nil
}

// ErrProcessorNotConfigured means the resolved tenant context has no usable
// credentials. Fatal for that tenant's operation only.
var ErrProcessorNotConfigured = errors.New("payment processor credentials not configured")

// newProcessorGateway is NewProcessorClient behind the interface type the
// services hold as their client factory. The explicit nil keeps gw == nil
// checks working on the interface value.
func newProcessorGateway(tc TenantPaymentContext) (ProcessorGateway, error) {
	gw, err := NewProcessorClient(tc)
	if err != nil {
		return nil, err
	}
	return gw, nil
}

func (g *StripeGateway) applyAccount(p *stripe.Params) {
	if g.merchantAccount != "" {
		p.SetStripeAccount(g.merchantAccount)
	}
}

func amountToCents(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func centsToAmount(c int64) decimal.Decimal {
	return decimal.NewFromInt(c).Div(decimal.NewFromInt(100))
}

// CreateCustomer creates a processor customer profile
func (g *StripeGateway) CreateCustomer(ctx context.Context, name, email string) (string, error) {
	params := &stripe.CustomerParams{
		Name:  stripe.String(name),
		Email: stripe.String(email),
	}
	params.Context = ctx
	g.applyAccount(&params.Params)

	cus, err := g.sc.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create customer: %w", err)
	}
	return cus.ID, nil
}

// CreateCheckoutSession opens a hosted checkout that charges the upfront
// amount and saves the payment method for future off-session charges.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (*CheckoutSessionResult, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer:   stripe.String(p.CustomerRef),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(p.Currency),
					UnitAmount: stripe.Int64(amountToCents(p.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			SetupFutureUsage: stripe.String("off_session"),
			Metadata:         p.Metadata,
		},
		Metadata: p.Metadata,
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	}
	g.applyAccount(&params.Params)

	s, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create checkout session: %w", err)
	}

	res := &CheckoutSessionResult{
		SessionRef:  s.ID,
		RedirectURL: s.URL,
		Completed:   s.Status == stripe.CheckoutSessionStatusComplete,
	}
	if s.PaymentIntent != nil {
		res.IntentRef = s.PaymentIntent.ID
	}
	return res, nil
}

// GetCheckoutSession retrieves a session with its intent and saved payment
// method expanded, for webhook confirmation.
func (g *StripeGateway) GetCheckoutSession(ctx context.Context, sessionRef string) (*CheckoutSessionResult, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	params.AddExpand("payment_intent.payment_method")
	g.applyAccount(&params.Params)

	s, err := g.sc.CheckoutSessions.Get(sessionRef, params)
	if err != nil {
		return nil, fmt.Errorf("stripe get checkout session: %w", err)
	}

	res := &CheckoutSessionResult{
		SessionRef:  s.ID,
		RedirectURL: s.URL,
		Completed:   s.Status == stripe.CheckoutSessionStatusComplete,
	}
	if s.PaymentIntent != nil {
		res.IntentRef = s.PaymentIntent.ID
		if s.PaymentIntent.PaymentMethod != nil {
			res.PaymentMethodRef = s.PaymentIntent.PaymentMethod.ID
		}
	}
	return res, nil
}

// ChargeOffSession charges a stored payment method without the cardholder
// present. With Hold set the funds are only authorized (manual capture).
func (g *StripeGateway) ChargeOffSession(ctx context.Context, p OffSessionChargeParams) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountToCents(p.Amount)),
		Currency:      stripe.String(p.Currency),
		Customer:      stripe.String(p.CustomerRef),
		PaymentMethod: stripe.String(p.PaymentMethodRef),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
		Metadata:      p.Metadata,
	}
	params.Context = ctx
	if p.Description != "" {
		params.Description = stripe.String(p.Description)
	}
	if p.Hold {
		params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	}
	if p.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	}
	g.applyAccount(&params.Params)

	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		return nil, err
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded && pi.Status != stripe.PaymentIntentStatusRequiresCapture {
		return nil, fmt.Errorf("off-session charge not completed, intent %s in status %s", pi.ID, pi.Status)
	}

	res := &ChargeResult{IntentRef: pi.ID, Status: string(pi.Status)}
	if pi.LatestCharge != nil {
		res.ChargeRef = pi.LatestCharge.ID
	}
	return res, nil
}

// CancelHold releases an uncaptured pre-authorization
func (g *StripeGateway) CancelHold(ctx context.Context, intentRef string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	g.applyAccount(&params.Params)

	if _, err := g.sc.PaymentIntents.Cancel(intentRef, params); err != nil {
		return fmt.Errorf("stripe cancel hold: %w", err)
	}
	return nil
}

// CreateRefund refunds a captured payment by its intent reference
func (g *StripeGateway) CreateRefund(ctx context.Context, intentRef string, amount decimal.Decimal, reason string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentRef),
	}
	params.Context = ctx
	if amount.IsPositive() {
		params.Amount = stripe.Int64(amountToCents(amount))
	}
	if reason != "" {
		params.Metadata = map[string]string{"reason": reason}
	}
	g.applyAccount(&params.Params)

	re, err := g.sc.Refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create refund: %w", err)
	}
	return re.ID, nil
}

// GetPaymentMethod retrieves a stored payment method and its owner
func (g *StripeGateway) GetPaymentMethod(ctx context.Context, ref string) (*PaymentMethodInfo, error) {
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	g.applyAccount(&params.Params)

	pm, err := g.sc.PaymentMethods.Get(ref, params)
	if err != nil {
		return nil, fmt.Errorf("stripe get payment method: %w", err)
	}

	info := &PaymentMethodInfo{Ref: pm.ID}
	if pm.Customer != nil {
		info.CustomerRef = pm.Customer.ID
	}
	if pm.Card != nil {
		info.Brand = string(pm.Card.Brand)
		info.Last4 = pm.Card.Last4
	}
	return info, nil
}

// AttachPaymentMethod attaches a free-floating payment method to a customer
func (g *StripeGateway) AttachPaymentMethod(ctx context.Context, ref, customerRef string) error {
	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerRef),
	}
	params.Context = ctx
	g.applyAccount(&params.Params)

	if _, err := g.sc.PaymentMethods.Attach(ref, params); err != nil {
		return fmt.Errorf("stripe attach payment method: %w", err)
	}
	return nil
}

// SetDefaultPaymentMethod makes the payment method the customer's default
// for future off-session charges.
func (g *StripeGateway) SetDefaultPaymentMethod(ctx context.Context, customerRef, ref string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(ref),
		},
	}
	params.Context = ctx
	g.applyAccount(&params.Params)

	if _, err := g.sc.Customers.Update(customerRef, params); err != nil {
		return fmt.Errorf("stripe set default payment method: %w", err)
	}
	return nil
}

// ProcessorErrorMessage maps processor errors to the small set of
// user-facing messages stored as installment failure reasons.
func ProcessorErrorMessage(err error) string {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.Code == stripe.ErrorCodeExpiredCard:
			return "card expired"
		case stripeErr.Type == stripe.ErrorTypeCard:
			return "card declined"
		case stripeErr.HTTPStatusCode == 429:
			return "processor rate limited"
		case stripeErr.HTTPStatusCode == 401:
			return "processor credentials rejected"
		case stripeErr.Type == stripe.ErrorTypeInvalidRequest:
			return "invalid payment request"
		default:
			return "payment processor unavailable"
		}
	}
	if errors.Is(err, ErrProcessorNotConfigured) {
		return "payment processor not configured"
	}
	return "payment failed"
}

// IsConfigError reports whether the failure is a per-tenant configuration
// problem rather than a declinable charge.
func IsConfigError(err error) bool {
	if errors.Is(err, ErrProcessorNotConfigured) {
		return true
	}
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 401
}
