package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/brekpuff/pix-checkout/internal/auth/jwtmiddleware"
	"github.com/brekpuff/pix-checkout/internal/gateway"
	"github.com/brekpuff/pix-checkout/internal/service"
	"github.com/brekpuff/pix-checkout/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// RetryPixHandler обрабатывает POST /api/orders/{orderID}/pix:
// создание (или повторная выдача) QR для еще не оплаченного заказа.
// Повторный вызов до завершения сессии возвращает тот же QR.
func RetryPixHandler(log *slog.Logger, payments service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.RetryPixHandler"
		logger := log.With(slog.String("op", op))

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			logger.Error("invalid order id", slog.Any("error", err))
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("userID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		isAdmin := jwtmiddleware.IsAdminFromContext(r.Context())

		sess, err := payments.CreateCharge(r.Context(), userID, isAdmin, orderID)
		if err != nil {
			logger.Error("failed to create charge", slog.Any("error", err))
			switch {
			case errors.Is(err, storage.ErrOrderNotFound):
				http.Error(w, "order not found", http.StatusNotFound)
			case errors.Is(err, service.ErrAccessDenied):
				http.Error(w, "access denied", http.StatusForbidden)
			case errors.Is(err, service.ErrOrderNotPending):
				http.Error(w, "order is not pending", http.StatusConflict)
			case errors.Is(err, gateway.ErrUpstream):
				http.Error(w, "payment processor unavailable, try again", http.StatusBadGateway)
			default:
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(pixPayload(sess)); err != nil {
			logger.Error("failed to encode response", slog.Any("error", err))
		}
	}
}

// CancelPixHandler обрабатывает POST /api/payments/{chargeRef}/cancel:
// явная отмена QR до оплаты. Заказ остается pending.
func CancelPixHandler(log *slog.Logger, payments service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CancelPixHandler"
		logger := log.With(slog.String("op", op))

		chargeRef := chi.URLParam(r, "chargeRef")
		if chargeRef == "" {
			http.Error(w, "chargeRef parameter is required", http.StatusBadRequest)
			return
		}

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("userID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		isAdmin := jwtmiddleware.IsAdminFromContext(r.Context())

		if err := payments.CancelSession(r.Context(), userID, isAdmin, chargeRef); err != nil {
			logger.Error("failed to cancel session", slog.Any("error", err))
			switch {
			case errors.Is(err, storage.ErrOrderNotFound):
				http.Error(w, "charge not found", http.StatusNotFound)
			case errors.Is(err, service.ErrAccessDenied):
				http.Error(w, "access denied", http.StatusForbidden)
			default:
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"message": "payment session cancelled"}); err != nil {
			logger.Error("failed to encode response", slog.Any("error", err))
		}
	}
}
