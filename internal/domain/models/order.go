package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus — статус заказа. Переходы только вперед, см. CanTransition.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Способы оплаты. Pix — мгновенный перевод, дает скидку 5%.
const (
	MethodPix  = "pix"
	MethodLink = "link"
	MethodBTC  = "btc"
)

// transitions — допустимые переходы статуса; отмена возможна из любого нетерминального.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:       {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
}

// CanTransition проверяет, допустим ли переход from -> to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal — из статуса нет исходящих переходов.
func (s OrderStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// ShippingAddress — адрес доставки. Type="presencial" означает продажу на месте, без доставки.
type ShippingAddress struct {
	Type    string `json:"type,omitempty"`
	Zip     string `json:"zip,omitempty"`
	Street  string `json:"street,omitempty"`
	Number  string `json:"number,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
}

// Order представляет заказ. Сумма в центах, после выхода из pending не меняется.
type Order struct {
	ID              uuid.UUID       `json:"id"`
	UserID          *int64          `json:"user_id,omitempty"` // nil для presencial-продаж
	Status          OrderStatus     `json:"status"`
	TotalCents      int64           `json:"total_cents"`
	PaymentMethod   string          `json:"payment_method"`
	CouponID        *uuid.UUID      `json:"coupon_id,omitempty"`
	ChargeRef       *string         `json:"charge_ref,omitempty"` // идентификатор платежа у процессора
	QRPayload       *string         `json:"qr_payload,omitempty"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderItem — позиция заказа. Цена копируется на момент покупки и больше не перечитывается.
type OrderItem struct {
	ID         int64     `json:"id"`
	OrderID    uuid.UUID `json:"order_id"`
	ProductID  uuid.UUID `json:"product_id"`
	Qty        int       `json:"qty"`
	PriceCents int64     `json:"price_cents"`
}
