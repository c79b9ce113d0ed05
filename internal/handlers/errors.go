package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/batimat/api/internal/platform/httpx"
	"github.com/batimat/api/internal/platform/requestctx"
	"github.com/batimat/api/internal/services"
)

var kindStatus = map[string]int{
	services.KindInvalidInput:            http.StatusBadRequest,
	services.KindForbiddenField:          http.StatusBadRequest,
	services.KindDeliveryPaymentMismatch: http.StatusBadRequest,
	services.KindVariantRequired:         http.StatusBadRequest,
	services.KindVariantInvalid:          http.StatusBadRequest,
	services.KindAuthRequired:            http.StatusUnauthorized,
	services.KindOrderForbidden:          http.StatusForbidden,
	services.KindCreditNotAllowed:        http.StatusForbidden,
	services.KindOrderNotFound:           http.StatusNotFound,
	services.KindInsufficientStock:       http.StatusConflict,
	services.KindBalanceChanged:          http.StatusConflict,
	services.KindNotAvailable:            http.StatusUnprocessableEntity,
	services.KindInvalidPromo:            http.StatusUnprocessableEntity,
	services.KindPromoNotYetActive:       http.StatusUnprocessableEntity,
	services.KindPromoExpired:            http.StatusUnprocessableEntity,
	services.KindPromoRedemptionLimit:    http.StatusUnprocessableEntity,
	services.KindPromoMinimumNotMet:      http.StatusUnprocessableEntity,
	services.KindCeilingExceeded:         http.StatusUnprocessableEntity,
	services.KindOrderNotCancellable:     http.StatusUnprocessableEntity,
	services.KindUnavailable:             http.StatusServiceUnavailable,
}

// statusForKind maps a service error kind onto an HTTP status; unknown kinds are 500.
func statusForKind(kind string) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeServiceError renders a service failure with its stable kind as the error code.
// Checkout aborts carry the failing stage.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	kind := services.ErrorKind(err)
	status := statusForKind(kind)

	message := err.Error()
	switch status {
	case http.StatusInternalServerError:
		requestctx.Logger(ctx).Error("request failed", zap.Error(err))
		message = "internal error"
	case http.StatusServiceUnavailable:
		requestctx.Logger(ctx).Warn("dependency unavailable", zap.Error(err))
		message = "service temporarily unavailable, retry"
		w.Header().Set("Retry-After", "1")
	}

	apiErr := httpx.NewError(kind, message, status)
	var aborted *services.CheckoutAbortedError
	if errors.As(err, &aborted) {
		apiErr = apiErr.WithDetails(map[string]any{"stage": string(aborted.Stage)})
	}
	httpx.WriteError(ctx, w, apiErr)
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func writeUnauthenticated(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, http.StatusServiceUnavailable))
}
