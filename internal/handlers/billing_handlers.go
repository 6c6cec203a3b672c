package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"rentbill/internal/models"
	"rentbill/internal/services"
)

type BillingHandler struct {
	db        *gorm.DB
	keys      services.ProcessorKeys
	scheduler *services.SchedulerService
	payoff    *services.PayoffService
	cascade   *services.CascadeService
	ledger    *services.LedgerService
	summary   *services.SummaryService
}

func NewBillingHandler(db *gorm.DB, keys services.ProcessorKeys, cache *services.RedisCache) *BillingHandler {
	return &BillingHandler{
		db:        db,
		keys:      keys,
		scheduler: services.NewSchedulerService(db, keys, cache),
		payoff:    services.NewPayoffService(db, keys),
		cascade:   services.NewCascadeService(db, keys),
		ledger:    services.NewLedgerService(db),
		summary:   services.NewSummaryService(db, cache),
	}
}

// Payoff charges one installment early or settles the whole remaining
// balance in a single off-session charge.
func (h *BillingHandler) Payoff(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	var req PayoffRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	var result *services.InstallmentResult
	switch {
	case req.Remaining:
		result, err = h.payoff.PayRemaining(c.Request().Context(), id)
	case req.InstallmentNumber > 0:
		result, err = h.payoff.PayInstallment(c.Request().Context(), id, req.InstallmentNumber)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "set installment_number or remaining")
	}
	if err != nil {
		return httpError(err)
	}
	if !result.Success {
		// The charge was attempted and declined; the installment keeps its
		// retry schedule. 402 tells the caller to fix the card and retry.
		return c.JSON(http.StatusPaymentRequired, result)
	}
	return c.JSON(http.StatusOK, result)
}

// RejectRental cancels a rental and unwinds every payment attached to it
func (h *BillingHandler) RejectRental(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	var req RejectRentalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	report, err := h.cascade.RejectRental(c.Request().Context(), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

// Refund issues a partial refund against what the rental's ledger shows as
// still refundable for the category.
func (h *BillingHandler) Refund(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	var req RefundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid amount")
	}

	var rental models.Rental
	if err := h.db.First(&rental, id).Error; err != nil {
		return httpError(err)
	}

	tc := services.ResolveTenantContext(h.db, rental.TenantID, h.keys)
	gw, err := services.NewProcessorClient(tc)
	if err != nil {
		return httpError(err)
	}

	if err := h.ledger.RequestRefund(c.Request().Context(), gw, services.RefundRequest{
		RentalID:  rental.ID,
		PaymentID: req.PaymentID,
		Category:  req.Category,
		Amount:    amount,
		Reason:    req.Reason,
	}); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": "refunded"})
}

// RunBilling triggers a due-charge pass immediately. The worker runs the
// same pass on schedule; this endpoint exists for operators.
func (h *BillingHandler) RunBilling(c echo.Context) error {
	report, err := h.scheduler.RunDueCharges(c.Request().Context(), time.Now())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

// Summary returns the cached billing dashboard counters
func (h *BillingHandler) Summary(c echo.Context) error {
	summary, err := h.summary.Summary(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summary)
}
