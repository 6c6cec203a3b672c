package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
	"gorm.io/gorm"

	"rentbill/internal/services"
)

// webhookMaxBody bounds how much of a webhook payload we read
const webhookMaxBody = 1 << 16

type CheckoutHandler struct {
	keys     services.ProcessorKeys
	checkout *services.CheckoutService
}

func NewCheckoutHandler(db *gorm.DB, keys services.ProcessorKeys) *CheckoutHandler {
	return &CheckoutHandler{
		keys:     keys,
		checkout: services.NewCheckoutService(db, keys),
	}
}

// StartCheckout opens (or resumes) the hosted checkout for a plan's upfront
// amount and returns the redirect URL.
func (h *CheckoutHandler) StartCheckout(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	var req StartCheckoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.SuccessURL == "" || req.CancelURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "success_url and cancel_url are required")
	}

	result, err := h.checkout.StartCheckout(c.Request().Context(), services.StartCheckoutInput{
		PlanID:        id,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
	})
	if err != nil {
		return httpError(err)
	}

	status := http.StatusCreated
	if result.IsExisting {
		status = http.StatusOK
	}
	return c.JSON(status, result)
}

// PlaceHold pre-authorizes a security hold on the plan's stored payment
// method. Returns the existing hold when one is already open.
func (h *CheckoutHandler) PlaceHold(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	var req PlaceHoldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	amount := decimal.Zero
	if req.Amount != "" {
		amount, err = decimal.NewFromString(req.Amount)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid amount")
		}
	}

	payment, err := h.checkout.PlaceSecurityHold(c.Request().Context(), id, amount)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, payment)
}

// ProcessorWebhook verifies and dispatches Stripe events. Only completed
// checkout sessions carry state we act on; everything else is acknowledged
// so the processor stops redelivering it.
func (h *CheckoutHandler) ProcessorWebhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable payload")
	}

	signature := c.Request().Header.Get("Stripe-Signature")
	event, err := webhook.ConstructEventWithOptions(payload, signature, h.keys.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook signature")
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed event payload")
		}
		if err := h.checkout.ConfirmCheckout(c.Request().Context(), session.ID); err != nil {
			// A 500 makes the processor redeliver, which is what we want
			// for transient settlement failures.
			return err
		}
	default:
		log.Printf("Ignoring webhook event %s (%s)", event.ID, event.Type)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"received": true})
}

// ConfirmCheckout is the redirect-landing fallback for environments without
// webhook delivery. It verifies the session against the processor before
// applying anything, so a forged session ref cannot activate a plan.
func (h *CheckoutHandler) ConfirmCheckout(c echo.Context) error {
	sessionRef := c.QueryParam("session_id")
	if sessionRef == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	if err := h.checkout.ConfirmCheckout(c.Request().Context(), sessionRef); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": "confirmed"})
}
