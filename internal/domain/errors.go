package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation            = errors.New("validation error")
	ErrGatewayUnavailable    = errors.New("gateway unavailable")
	ErrCurrencyUnsupported   = errors.New("currency unsupported")
	ErrProviderTimeout       = errors.New("provider timeout")
	ErrProviderRejected      = errors.New("provider rejected")
	ErrProviderFailure       = errors.New("provider failure")
	ErrConversionUnavailable = errors.New("conversion unavailable")

	ErrMarketNotFound    = errors.New("market not found")
	ErrGatewayNotFound   = errors.New("gateway not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyConfirmed  = errors.New("payment already confirmed")
)

var errorCodes = map[error]string{
	ErrValidation:            "VALIDATION_ERROR",
	ErrGatewayUnavailable:    "GATEWAY_UNAVAILABLE",
	ErrCurrencyUnsupported:   "CURRENCY_UNSUPPORTED",
	ErrProviderTimeout:       "PROVIDER_TIMEOUT",
	ErrProviderRejected:      "PROVIDER_REJECTED",
	ErrProviderFailure:       "PROVIDER_FAILURE",
	ErrConversionUnavailable: "CONVERSION_UNAVAILABLE",

	ErrMarketNotFound:    "MARKET_NOT_FOUND",
	ErrGatewayNotFound:   "GATEWAY_NOT_FOUND",
	ErrPaymentNotFound:   "PAYMENT_NOT_FOUND",
	ErrInvalidTransition: "INVALID_TRANSITION",
	ErrAlreadyConfirmed:  "ALREADY_CONFIRMED",
}

// PaymentError carries one of the sentinel kinds above plus a message meant
// for the caller. Err, when set, is the underlying cause and is only logged.
type PaymentError struct {
	Kind    error
	Message string
	Err     error
}

func NewPaymentError(kind error, format string, args ...any) *PaymentError {
	return &PaymentError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PaymentError) Is(target error) bool {
	return e.Kind == target
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Code is the machine readable form of Kind.
func (e *PaymentError) Code() string {
	if code, ok := errorCodes[e.Kind]; ok {
		return code
	}
	return "INTERNAL_ERROR"
}

// Attempted reports whether the error happened after a provider was called,
// in which case the attempt is audited.
func (e *PaymentError) Attempted() bool {
	switch e.Kind {
	case ErrProviderTimeout, ErrProviderRejected, ErrProviderFailure:
		return true
	}
	return false
}

// ErrorCode returns the code of the first known kind err matches.
func ErrorCode(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code()
	}
	for kind, code := range errorCodes {
		if errors.Is(err, kind) {
			return code
		}
	}
	return "INTERNAL_ERROR"
}
