package services

import (
	"errors"
	"fmt"
	"testing"

	stripe "github.com/stripe/stripe-go/v83"
)

func TestAmountConversion(t *testing.T) {
	tests := []struct {
		amount string
		cents  int64
	}{
		{"100.00", 10000},
		{"33.33", 3333},
		{"0.01", 1},
		{"1250.50", 125050},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			if got := amountToCents(d(tt.amount)); got != tt.cents {
				t.Errorf("amountToCents(%s) = %d; want %d", tt.amount, got, tt.cents)
			}
			if got := centsToAmount(tt.cents); !got.Equal(d(tt.amount)) {
				t.Errorf("centsToAmount(%d) = %s; want %s", tt.cents, got, tt.amount)
			}
		})
	}
}

func TestProcessorErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "expired card",
			err:  &stripe.Error{Code: stripe.ErrorCodeExpiredCard, Type: stripe.ErrorTypeCard},
			want: "card expired",
		},
		{
			name: "generic card decline",
			err:  &stripe.Error{Code: stripe.ErrorCodeCardDeclined, Type: stripe.ErrorTypeCard},
			want: "card declined",
		},
		{
			name: "rate limited",
			err:  &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: 429},
			want: "processor rate limited",
		},
		{
			name: "bad credentials",
			err:  &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: 401},
			want: "processor credentials rejected",
		},
		{
			name: "invalid request",
			err:  &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: 400},
			want: "invalid payment request",
		},
		{
			name: "processor outage",
			err:  &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: 500},
			want: "payment processor unavailable",
		},
		{
			name: "missing credentials sentinel",
			err:  ErrProcessorNotConfigured,
			want: "payment processor not configured",
		},
		{
			name: "wrapped sentinel",
			err:  fmt.Errorf("resolving client: %w", ErrProcessorNotConfigured),
			want: "payment processor not configured",
		},
		{
			name: "plain error",
			err:  errors.New("connection reset"),
			want: "payment failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProcessorErrorMessage(tt.err); got != tt.want {
				t.Errorf("ProcessorErrorMessage() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestIsConfigError(t *testing.T) {
	if !IsConfigError(ErrProcessorNotConfigured) {
		t.Error("IsConfigError should accept the missing-credentials sentinel")
	}
	if !IsConfigError(&stripe.Error{HTTPStatusCode: 401}) {
		t.Error("IsConfigError should accept a 401 from the processor")
	}
	if IsConfigError(&stripe.Error{Type: stripe.ErrorTypeCard, HTTPStatusCode: 402}) {
		t.Error("a card decline is not a configuration error")
	}
}
