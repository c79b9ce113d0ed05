package services

import (
	"errors"
	"fmt"

	"github.com/batimat/api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput indicates a missing or malformed field; nothing was written.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutForbiddenField indicates raw card data was supplied.
	ErrCheckoutForbiddenField = errors.New("checkout: forbidden field")
	// ErrCheckoutDeliveryPaymentMismatch indicates pickup was combined with cash on delivery.
	ErrCheckoutDeliveryPaymentMismatch = errors.New("checkout: payment method not allowed for delivery method")

	// ErrProductNotAvailable indicates the product is unpublished, deleted or unknown.
	ErrProductNotAvailable = errors.New("pricing: product not available")
	// ErrVariantRequired indicates the product mandates a variant selection.
	ErrVariantRequired = errors.New("pricing: variant required")
	// ErrVariantInvalid indicates the variant does not belong to the product or has no name.
	ErrVariantInvalid = errors.New("pricing: variant invalid")
	// ErrInsufficientStock indicates the lots cannot cover the requested quantity.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")

	ErrPromoInvalid         = errors.New("promo: invalid code")
	ErrPromoNotYetActive    = errors.New("promo: not yet active")
	ErrPromoExpired         = errors.New("promo: expired")
	ErrPromoRedemptionLimit = errors.New("promo: redemption limit reached")
	ErrPromoMinimumNotMet   = errors.New("promo: minimum order amount not met")

	// ErrCreditAuthRequired indicates a ledger operation was attempted without a customer identity.
	ErrCreditAuthRequired = errors.New("credit: authentication required")
	// ErrCreditNotAllowed indicates the customer is not eligible for credit sales.
	ErrCreditNotAllowed = errors.New("credit: customer not eligible")
	// ErrCreditCeilingExceeded indicates the projected balance would exceed the plafond.
	ErrCreditCeilingExceeded = errors.New("credit: ceiling exceeded")
	// ErrCreditBalanceChanged indicates the remise balance moved between read and write.
	ErrCreditBalanceChanged = errors.New("credit: balance changed")

	ErrOrderNotFound       = errors.New("order: not found")
	ErrOrderForbidden      = errors.New("order: forbidden")
	ErrOrderNotCancellable = errors.New("order: not cancellable")

	// ErrUnavailable indicates a transient storage failure (lock timeout, deadlock, outage).
	ErrUnavailable = errors.New("service unavailable")
)

// Stable error kinds surfaced to callers.
const (
	KindInvalidInput            = "invalid_input"
	KindForbiddenField          = "forbidden_field"
	KindDeliveryPaymentMismatch = "delivery_payment_mismatch"
	KindNotAvailable            = "not_available"
	KindVariantRequired         = "variant_required"
	KindVariantInvalid          = "variant_invalid"
	KindInsufficientStock       = "insufficient_stock"
	KindInvalidPromo            = "invalid_promo"
	KindPromoNotYetActive       = "promo_not_yet_active"
	KindPromoExpired            = "promo_expired"
	KindPromoRedemptionLimit    = "promo_redemption_limit_reached"
	KindPromoMinimumNotMet      = "promo_minimum_not_met"
	KindAuthRequired            = "auth_required"
	KindCreditNotAllowed        = "credit_not_allowed"
	KindCeilingExceeded         = "ceiling_exceeded"
	KindBalanceChanged          = "balance_changed"
	KindOrderNotFound           = "order_not_found"
	KindOrderForbidden          = "order_forbidden"
	KindOrderNotCancellable     = "order_not_cancellable"
	KindUnavailable             = "unavailable"
	KindInternal                = "internal"
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrCheckoutInvalidInput, KindInvalidInput},
	{ErrCheckoutForbiddenField, KindForbiddenField},
	{ErrCheckoutDeliveryPaymentMismatch, KindDeliveryPaymentMismatch},
	{ErrProductNotAvailable, KindNotAvailable},
	{ErrVariantRequired, KindVariantRequired},
	{ErrVariantInvalid, KindVariantInvalid},
	{ErrInsufficientStock, KindInsufficientStock},
	{ErrPromoInvalid, KindInvalidPromo},
	{ErrPromoNotYetActive, KindPromoNotYetActive},
	{ErrPromoExpired, KindPromoExpired},
	{ErrPromoRedemptionLimit, KindPromoRedemptionLimit},
	{ErrPromoMinimumNotMet, KindPromoMinimumNotMet},
	{ErrCreditAuthRequired, KindAuthRequired},
	{ErrCreditNotAllowed, KindCreditNotAllowed},
	{ErrCreditCeilingExceeded, KindCeilingExceeded},
	{ErrCreditBalanceChanged, KindBalanceChanged},
	{ErrOrderNotFound, KindOrderNotFound},
	{ErrOrderForbidden, KindOrderForbidden},
	{ErrOrderNotCancellable, KindOrderNotCancellable},
	{ErrUnavailable, KindUnavailable},
}

// ErrorKind maps err to its stable kind. Unrecognised errors are "internal".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorKinds {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && (repoErr.IsUnavailable() || repoErr.IsConflict()) {
		return KindUnavailable
	}
	return KindInternal
}

// CheckoutStage names a step of the checkout pipeline.
type CheckoutStage string

const (
	StageValidating        CheckoutStage = "validating"
	StagePricing           CheckoutStage = "pricing"
	StageDiscounting       CheckoutStage = "discounting"
	StageAuthorizingCredit CheckoutStage = "authorizingCredit"
	StageAllocatingStock   CheckoutStage = "allocatingStock"
	StagePersisting        CheckoutStage = "persisting"
	StageCommitted         CheckoutStage = "committed"
)

// CheckoutAbortedError reports the stage at which a checkout rolled back.
type CheckoutAbortedError struct {
	Stage CheckoutStage
	Err   error
}

func (e *CheckoutAbortedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("checkout aborted at %s: %v", e.Stage, e.Err)
}

func (e *CheckoutAbortedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// translateRepoError maps repository failures onto service sentinels. notFound is returned
// (wrapped) for missing rows when non-nil.
func translateRepoError(op string, err error, notFound error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound() && notFound != nil:
			return fmt.Errorf("%w: %s", notFound, op)
		case repoErr.IsUnavailable(), repoErr.IsConflict():
			return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
