package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/brekpuff/pix-checkout/internal/auth/jwtmiddleware"
	"github.com/brekpuff/pix-checkout/internal/domain/models"
	"github.com/brekpuff/pix-checkout/internal/service"
	"github.com/brekpuff/pix-checkout/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// OrdersResponse — список заказов пользователя для страницы аккаунта.
type OrdersResponse struct {
	Orders []*models.Order `json:"orders"`
}

// SetStatusRequest — запрос ручного перевода статуса администратором.
type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=paid processing shipped delivered cancelled"`
}

// OrdersHandler обрабатывает GET /api/orders — заказы текущего пользователя.
func OrdersHandler(log *slog.Logger, ordersService service.OrdersService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.OrdersHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("userID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		orders, err := ordersService.GetOrders(r.Context(), userID)
		if err != nil {
			logger.Error("failed to get orders", slog.Any("error", err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if orders == nil {
			orders = []*models.Order{}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(OrdersResponse{Orders: orders}); err != nil {
			logger.Error("failed to encode response", slog.Any("error", err))
		}
	}
}

// SetStatusHandler обрабатывает POST /api/admin/orders/{orderID}/status —
// ручной перевод статуса, в том числе подтверждение оплаты вручную.
func SetStatusHandler(log *slog.Logger, payments service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.SetStatusHandler"
		logger := log.With(slog.String("op", op))

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		var req SetStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			logger.Error("invalid request: validation error", slog.Any("error", err))
			http.Error(w, "validation error", http.StatusBadRequest)
			return
		}

		if err := payments.AdminSetStatus(r.Context(), orderID, models.OrderStatus(req.Status)); err != nil {
			logger.Error("failed to set status", slog.Any("error", err))
			switch {
			case errors.Is(err, storage.ErrOrderNotFound):
				http.Error(w, "order not found", http.StatusNotFound)
			case errors.Is(err, service.ErrInvalidTransition):
				http.Error(w, "status transition not allowed", http.StatusConflict)
			default:
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": req.Status}); err != nil {
			logger.Error("failed to encode response", slog.Any("error", err))
		}
	}
}

// DeleteOrderHandler обрабатывает DELETE /api/admin/orders/{orderID}.
// Удалять можно только pending-заказы: по оплаченным остается след.
func DeleteOrderHandler(log *slog.Logger, payments service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.DeleteOrderHandler"
		logger := log.With(slog.String("op", op))

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		if err := payments.AdminDeleteOrder(r.Context(), orderID); err != nil {
			logger.Error("failed to delete order", slog.Any("error", err))
			switch {
			case errors.Is(err, storage.ErrOrderNotFound):
				http.Error(w, "order not found", http.StatusNotFound)
			case errors.Is(err, service.ErrOrderNotPending):
				http.Error(w, "only pending orders can be deleted", http.StatusConflict)
			default:
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
