package types

import "errors"

// 错误分类，具体错误都可以通过 errors.Is 判断属于哪一类
var (
	ErrConfiguration      = errors.New("configuration error")
	ErrValidation         = errors.New("validation error")
	ErrSignature          = errors.New("signature error")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrGatewayRejected    = errors.New("gateway rejected request")
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not found")
)

// 具体错误
var (
	ErrGatewayNotConfigured = newKindError(ErrConfiguration, "payment gateway not configured for tenant")
	ErrUnsupportedProvider  = newKindError(ErrConfiguration, "unsupported payment provider")

	ErrInvoiceNotPayable    = newKindError(ErrValidation, "invoice is not payable")
	ErrInvalidAmount        = newKindError(ErrValidation, "amount must be greater than 0")
	ErrAmountExceedsBalance = newKindError(ErrValidation, "amount exceeds invoice balance")
	ErrMalformedEvent       = newKindError(ErrValidation, "malformed gateway event")
	ErrAmountMismatch       = newKindError(ErrValidation, "gateway amount does not match transaction amount")

	ErrSignatureInvalid = newKindError(ErrSignature, "invalid gateway signature")

	ErrPaymentInProgress = newKindError(ErrConflict, "a payment for this invoice is already in progress")

	ErrInvoiceNotFound        = newKindError(ErrNotFound, "invoice not found")
	ErrTransactionNotFound    = newKindError(ErrNotFound, "payment transaction not found")
	ErrGatewayPaymentNotFound = newKindError(ErrNotFound, "gateway has no payment for this order")

	// ErrEventIgnored 非支付类 webhook 事件，确认收到后直接丢弃
	ErrEventIgnored = errors.New("gateway event ignored")
)

type kindError struct {
	kind error
	msg  string
}

func newKindError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

func (e *kindError) Error() string {
	return e.msg
}

func (e *kindError) Unwrap() error {
	return e.kind
}
