package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/brekpuff/pix-checkout/internal/config"
	"github.com/google/uuid"
)

// ErrUpstream — любой не-2xx ответ процессора. Код и тело логируются,
// клиенту наружу не передаются.
var ErrUpstream = errors.New("payment processor error")

// Charge — нормализованный ответ процессора на создание платежа.
// Вся вариативность схемы ответа гасится внутри адаптера.
type Charge struct {
	Ref           string `json:"charge_ref"`
	QRPayload     string `json:"qr_payload"`
	QRImageBase64 string `json:"qr_image_base64"`
	RedirectLink  string `json:"redirect_link"`
}

// Gateway описывает операции с платежным процессором.
type Gateway interface {
	// CreateCharge создает pix-платеж. Идемпотентность обеспечивается
	// заголовком X-Idempotency-Key, равным идентификатору заказа.
	CreateCharge(ctx context.Context, orderID uuid.UUID, amountCents int64) (*Charge, error)
	// CancelCharge отменяет платеж. Вызывающие глотают ошибку:
	// отмена — вспомогательная очистка, авторитетный дедлайн локальный.
	CancelCharge(ctx context.Context, chargeRef string) error
	// GetCharge возвращает текущий статус платежа; используется
	// слушателем подтверждений как догоняющая проверка при переподключении.
	GetCharge(ctx context.Context, chargeRef string) (string, error)
}

// Client — реализация Gateway поверх HTTP API процессора.
type Client struct {
	log         *slog.Logger
	http        *http.Client
	baseURL     string
	token       string
	payerDomain string
}

func NewClient(log *slog.Logger, cfg config.PaymentConfig) *Client {
	return &Client{
		log:         log,
		http:        &http.Client{Timeout: cfg.Timeout},
		baseURL:     cfg.BaseURL,
		token:       cfg.AccessToken,
		payerDomain: cfg.PayerDomain,
	}
}

// createRequest — тело запроса POST /v1/payments.
// Сумма у процессора в денежных единицах, внутри системы — в центах.
type createRequest struct {
	TransactionAmount float64     `json:"transaction_amount"`
	PaymentMethodID   string      `json:"payment_method_id"`
	Description       string      `json:"description"`
	Payer             createPayer `json:"payer"`
}

type createPayer struct {
	Email string `json:"email"`
}

// chargeResponse — сырой ответ процессора. Поля QR дублируются на верхнем
// уровне у части схем, поэтому читаем с запасными вариантами.
type chargeResponse struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
	TicketURL    string `json:"ticket_url"`
}

func (c *Client) CreateCharge(ctx context.Context, orderID uuid.UUID, amountCents int64) (*Charge, error) {
	const op = "gateway.Client.CreateCharge"
	logger := c.log.With(slog.String("op", op), slog.String("orderID", orderID.String()))

	shortID := orderID.String()[:8]
	body := createRequest{
		TransactionAmount: float64(amountCents) / 100,
		PaymentMethodID:   "pix",
		Description:       fmt.Sprintf("Pedido #%s", shortID),
		Payer:             createPayer{Email: fmt.Sprintf("anon_%s@%s", shortID, c.payerDomain)},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payments", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	// Ключ идемпотентности — id заказа: повтор запроса не создаст второй платеж.
	req.Header.Set("X-Idempotency-Key", orderID.String())

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Error("processor request failed", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w: %v", op, ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Error("processor returned error",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(raw)),
		)
		return nil, fmt.Errorf("%s: %w: status %d", op, ErrUpstream, resp.StatusCode)
	}

	var parsed chargeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		logger.Error("failed to decode processor response", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w: bad response body", op, ErrUpstream)
	}

	charge := normalize(&parsed)
	if charge.Ref == "" {
		charge.Ref = orderID.String()
	}
	logger.Info("charge created", slog.String("chargeRef", charge.Ref))
	return charge, nil
}

func (c *Client) CancelCharge(ctx context.Context, chargeRef string) error {
	const op = "gateway.Client.CancelCharge"
	logger := c.log.With(slog.String("op", op), slog.String("chargeRef", chargeRef))

	payload := []byte(`{"status":"cancelled"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/v1/payments/"+chargeRef, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warn("cancel request failed", slog.Any("error", err))
		return fmt.Errorf("%s: %w: %v", op, ErrUpstream, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn("cancel returned error", slog.Int("status", resp.StatusCode))
		return fmt.Errorf("%s: %w: status %d", op, ErrUpstream, resp.StatusCode)
	}
	logger.Info("charge cancelled")
	return nil
}

func (c *Client) GetCharge(ctx context.Context, chargeRef string) (string, error) {
	const op = "gateway.Client.GetCharge"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payments/"+chargeRef, nil)
	if err != nil {
		return "", fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %v", op, ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%s: failed to read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Error("charge status query failed",
			slog.String("op", op),
			slog.String("chargeRef", chargeRef),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(raw)),
		)
		return "", fmt.Errorf("%s: %w: status %d", op, ErrUpstream, resp.StatusCode)
	}

	var parsed chargeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%s: %w: bad response body", op, ErrUpstream)
	}
	return parsed.Status, nil
}

// normalize сводит варианты схемы ответа к одному типу.
func normalize(resp *chargeResponse) *Charge {
	charge := &Charge{
		Ref:           resp.ID.String(),
		QRPayload:     resp.PointOfInteraction.TransactionData.QRCode,
		QRImageBase64: resp.PointOfInteraction.TransactionData.QRCodeBase64,
		RedirectLink:  resp.PointOfInteraction.TransactionData.TicketURL,
	}
	if charge.QRPayload == "" {
		charge.QRPayload = resp.QRCode
	}
	if charge.QRImageBase64 == "" {
		charge.QRImageBase64 = resp.QRCodeBase64
	}
	if charge.RedirectLink == "" {
		charge.RedirectLink = resp.TicketURL
	}
	return charge
}
