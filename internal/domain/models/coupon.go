package models

import (
	"time"

	"github.com/google/uuid"
)

// Coupon представляет купон на скидку.
// Процентная и фиксированная скидки суммируются.
type Coupon struct {
	ID              uuid.UUID  `json:"id"`
	Code            string     `json:"code"` // хранится в верхнем регистре, сравнение без учета регистра
	DiscountPercent int        `json:"discount_percent"`
	DiscountCents   int64      `json:"discount_cents"`
	MinOrderCents   int64      `json:"min_order_cents"`
	MaxUses         *int       `json:"max_uses,omitempty"` // nil — без ограничения
	UsedCount       int        `json:"used_count"`
	Active          bool       `json:"active"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
