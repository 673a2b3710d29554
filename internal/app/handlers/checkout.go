package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/brekpuff/pix-checkout/internal/auth/jwtmiddleware"
	"github.com/brekpuff/pix-checkout/internal/domain/models"
	"github.com/brekpuff/pix-checkout/internal/gateway"
	"github.com/brekpuff/pix-checkout/internal/pricing"
	"github.com/brekpuff/pix-checkout/internal/service"
	"github.com/brekpuff/pix-checkout/internal/session"
)

// CheckoutRequest — входной JSON оформления заказа.
type CheckoutRequest struct {
	Method     string `json:"method" validate:"required,oneof=pix link btc"`
	CouponCode string `json:"coupon_code"`
	Zip        string `json:"zip"`
	Street     string `json:"street"`
	Number     string `json:"number"`
	City       string `json:"city"`
	State      string `json:"state"`
}

// PixPayload — вооруженный QR для ответа клиенту.
type PixPayload struct {
	ChargeRef     string    `json:"charge_ref"`
	QRPayload     string    `json:"qr_payload"`
	QRImageBase64 string    `json:"qr_image_base64"`
	RedirectLink  string    `json:"redirect_link"`
	ExpiresAt     time.Time `json:"expires_at"`
	SecondsLeft   int64     `json:"seconds_left"`
}

// CheckoutResponse — структура ответа при успешном оформлении.
type CheckoutResponse struct {
	OrderID string         `json:"order_id"`
	Status  string         `json:"status"`
	Quote   *pricing.Quote `json:"quote,omitempty"`
	Pix     *PixPayload    `json:"pix,omitempty"`
	Message string         `json:"message,omitempty"`
}

// PresencialRequest — запрос presencial-продажи (только администратор).
type PresencialRequest struct {
	TotalCents int64 `json:"total_cents" validate:"required,gt=0"`
}

// CheckoutHandler обрабатывает запрос POST /api/checkout.
func CheckoutHandler(log *slog.Logger, checkoutService service.CheckoutService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CheckoutHandler"
		logger := log.With(slog.String("op", op))

		var req CheckoutRequest
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

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("userID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		result, err := checkoutService.Checkout(r.Context(), userID, service.CheckoutRequest{
			Method:     req.Method,
			CouponCode: req.CouponCode,
			Address: models.ShippingAddress{
				Zip:     req.Zip,
				Street:  req.Street,
				Number:  req.Number,
				City:    req.City,
				State:   req.State,
				Country: "BR",
			},
		})
		if err != nil {
			logger.Error("checkout failed", slog.Any("error", err))
			http.Error(w, checkoutErrorMessage(err), checkoutErrorStatus(err))
			return
		}

		writeCheckoutResponse(w, logger, result)
	}
}

// PresencialHandler обрабатывает POST /api/admin/checkout/presencial:
// заказ без владельца с суммой, заданной администратором.
func PresencialHandler(log *slog.Logger, checkoutService service.CheckoutService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.PresencialHandler"
		logger := log.With(slog.String("op", op))

		var req PresencialRequest
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

		result, err := checkoutService.CreatePresencialOrder(r.Context(), req.TotalCents)
		if err != nil {
			logger.Error("presencial order failed", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		writeCheckoutResponse(w, logger, result)
	}
}

func writeCheckoutResponse(w http.ResponseWriter, logger *slog.Logger, result *service.CheckoutResult) {
	resp := CheckoutResponse{
		OrderID: result.Order.ID.String(),
		Status:  string(result.Order.Status),
		Quote:   result.Quote,
	}
	if result.Session != nil {
		resp.Pix = pixPayload(result.Session)
	}
	if result.ChargeFailed {
		resp.Message = "order created, pix generation failed, retry later"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to encode response", slog.Any("error", err))
	}
}

func pixPayload(s *session.Session) *PixPayload {
	return &PixPayload{
		ChargeRef:     s.ChargeRef,
		QRPayload:     s.QRPayload,
		QRImageBase64: s.QRImageBase64,
		RedirectLink:  s.RedirectLink,
		ExpiresAt:     s.Deadline,
		SecondsLeft:   s.SecondsLeft(),
	}
}

// checkoutErrorMessage — человекочитаемая причина отказа для клиента.
func checkoutErrorMessage(err error) string {
	switch {
	case errors.Is(err, pricing.ErrCouponInvalid):
		return "invalid coupon"
	case errors.Is(err, pricing.ErrCouponExpired):
		return "coupon expired"
	case errors.Is(err, pricing.ErrCouponExhausted):
		return "coupon exhausted"
	case errors.Is(err, pricing.ErrCouponBelowMinimum):
		return "order below coupon minimum"
	case errors.Is(err, service.ErrEmptyCart):
		return "cart is empty"
	case errors.Is(err, gateway.ErrUpstream):
		return "payment processor unavailable, try again"
	}
	return "checkout failed"
}

func checkoutErrorStatus(err error) int {
	if errors.Is(err, gateway.ErrUpstream) {
		return http.StatusBadGateway
	}
	switch {
	case errors.Is(err, pricing.ErrCouponInvalid),
		errors.Is(err, pricing.ErrCouponExpired),
		errors.Is(err, pricing.ErrCouponExhausted),
		errors.Is(err, pricing.ErrCouponBelowMinimum),
		errors.Is(err, service.ErrEmptyCart):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
