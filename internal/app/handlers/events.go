package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/brekpuff/pix-checkout/internal/service"
	"github.com/brekpuff/pix-checkout/internal/session"
	"github.com/go-chi/chi/v5"
)

// EventsHandler обрабатывает GET /api/webhooks/pix/{chargeRef} — SSE-поток
// состояния платежной сессии, одно соединение на платеж.
//
// При подключении сначала выполняется догоняющий запрос статуса у процессора:
// переподключение после обрыва не полагается только на пуш, пропущенное
// подтверждение будет применено здесь. Повторное применение безопасно —
// все сходится на атомарном переходе статуса заказа.
func EventsHandler(log *slog.Logger, payments service.PaymentService, sessions *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.EventsHandler"
		logger := log.With(slog.String("op", op))

		chargeRef := chi.URLParam(r, "chargeRef")
		if chargeRef == "" {
			http.Error(w, "chargeRef parameter is required", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			logger.Error("response writer does not support streaming")
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		// Догоняющая проверка: платеж мог быть подтвержден, пока клиент переподключался.
		paid, err := payments.CheckCharge(r.Context(), chargeRef)
		if err != nil {
			// Не фатально: продолжаем слушать пуш, проверка повторится при следующем подключении.
			logger.Warn("catch-up charge check failed", slog.Any("error", err))
		}
		if paid {
			writeEvent(w, flusher, session.Event{Status: "approved"})
			return
		}

		ch, unsubscribe, ok := sessions.Subscribe(chargeRef)
		if !ok {
			// Активной сессии нет (истекла или отменена): отдаем текущий снимок
			// и закрываемся, клиент переподключится и снова пройдет догоняющую проверку.
			writeEvent(w, flusher, session.Event{Status: "pending"})
			return
		}
		defer unsubscribe()

		for {
			select {
			case <-r.Context().Done():
				return
			case event, open := <-ch:
				if !open {
					return
				}
				writeEvent(w, flusher, event)
				if event.Status != "pending" {
					return
				}
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event session.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
