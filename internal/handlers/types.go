package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"rentbill/internal/services"
)

// CreatePlanRequest is the payload for setting up an installment plan on a
// rental. Config fields default sensibly when omitted.
type CreatePlanRequest struct {
	RentalID    uint   `json:"rental_id"`
	PlanType    string `json:"plan_type"`
	Count       int    `json:"count"`
	FoldFirst   bool   `json:"fold_first"`
	FirstAmount string `json:"first_amount"`
	StartDate   string `json:"start_date"` // YYYY-MM-DD, defaults to today

	GracePeriodDays   int    `json:"grace_period_days"`
	MaxRetryAttempts  int    `json:"max_retry_attempts"`
	RetryIntervalDays int    `json:"retry_interval_days"`
	WhatGetsSplit     string `json:"what_gets_split"` // defaults to rental_total
}

// StartCheckoutRequest carries the payer details for the upfront checkout
type StartCheckoutRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	SuccessURL    string `json:"success_url"`
	CancelURL     string `json:"cancel_url"`
}

// PlaceHoldRequest pre-authorizes a security hold against a plan's stored
// payment method. Amount defaults to the rental's deposit when omitted.
type PlaceHoldRequest struct {
	Amount string `json:"amount"`
}

// PayoffRequest pays one installment early or the whole remaining balance
type PayoffRequest struct {
	InstallmentNumber int  `json:"installment_number"`
	Remaining         bool `json:"remaining"`
}

// ReplacePaymentMethodRequest swaps the stored card token on one plan or on
// every open plan of the customer.
type ReplacePaymentMethodRequest struct {
	NewTokenRef string `json:"new_token_ref"`
	AllPlans    bool   `json:"all_plans"`
}

// RejectRentalRequest cancels a rental and unwinds its money
type RejectRentalRequest struct {
	Reason string `json:"reason"`
}

// RefundRequest issues a partial refund against a rental's ledger
type RefundRequest struct {
	PaymentID uint   `json:"payment_id"`
	Category  string `json:"category"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
}

func idParam(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return uint(id), nil
}

// httpError maps service sentinel errors onto response codes. Anything
// unmapped surfaces as a 500 through the central error handler.
func httpError(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, services.ErrPlanExists),
		errors.Is(err, services.ErrCheckoutAlreadyPaid),
		errors.Is(err, services.ErrPlanNotPayable),
		errors.Is(err, services.ErrInstallmentNotPayable),
		errors.Is(err, services.ErrNothingToPay),
		errors.Is(err, services.ErrNoStoredPaymentMethod):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrInvalidInstallmentCount),
		errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrUnsupportedSplit),
		errors.Is(err, services.ErrRefundExceedsAvailable):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrTokenNotOwned):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrProcessorNotConfigured):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
