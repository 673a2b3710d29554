package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/brekpuff/pix-checkout/internal/service"
)

// WebhookEvent — уведомление процессора об изменении платежа.
// Часть схем шлет идентификатор на верхнем уровне, часть — внутри data.
type WebhookEvent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Data   struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// WebhookHandler обрабатывает POST /api/webhooks/pix — асинхронный пуш
// процессора о расчете. Кривые тела логируются и отбрасываются с 200:
// подписка не должна падать, догоняющий запрос статуса — страховка.
func WebhookHandler(log *slog.Logger, payments service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.WebhookHandler"
		logger := log.With(slog.String("op", op))

		var event WebhookEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			logger.Warn("malformed webhook body, dropping", slog.Any("error", err))
			w.WriteHeader(http.StatusOK)
			return
		}

		chargeRef := event.ID
		if chargeRef == "" {
			chargeRef = event.Data.ID
		}
		status := event.Status
		if status == "" {
			status = event.Data.Status
		}
		if chargeRef == "" {
			logger.Warn("webhook without charge id, dropping")
			w.WriteHeader(http.StatusOK)
			return
		}

		// Ошибка хранилища возвращает 500, чтобы процессор повторил доставку.
		if err := payments.ApplySettlement(r.Context(), chargeRef, status); err != nil {
			logger.Error("failed to apply settlement", slog.Any("error", err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}
