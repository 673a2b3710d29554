package models

import "github.com/google/uuid"

// CartItem — позиция корзины пользователя.
// PriceCents заполняется через JOIN с таблицей products.
type CartItem struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	ProductID  uuid.UUID `json:"product_id"`
	Qty        int       `json:"qty"`
	PriceCents int64     `json:"price_cents"`
}
