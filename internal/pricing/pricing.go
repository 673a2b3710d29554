package pricing

import (
	"errors"
	"time"

	"github.com/brekpuff/pix-checkout/internal/domain/models"
)

// Причины отказа в применении купона.
var (
	ErrCouponInvalid      = errors.New("coupon invalid")
	ErrCouponExpired      = errors.New("coupon expired")
	ErrCouponExhausted    = errors.New("coupon exhausted")
	ErrCouponBelowMinimum = errors.New("order below coupon minimum")
)

// Fees — константы расчета, приходят из конфига.
type Fees struct {
	ShippingCents  int64
	PixDiscountPct int
}

// Quote — разбивка итоговой суммы. Все значения в центах.
type Quote struct {
	SubtotalCents       int64 `json:"subtotal_cents"`
	MethodDiscountCents int64 `json:"method_discount_cents"`
	CouponDiscountCents int64 `json:"coupon_discount_cents"`
	ShippingCents       int64 `json:"shipping_cents"`
	TotalCents          int64 `json:"total_cents"`
}

// Evaluate — чистая функция расчета итоговой суммы заказа:
// total = max(0, subtotal - скидка метода - скидка купона) + доставка.
// Скидка метода — 5% за pix (мгновенный перевод). Округление везде
// половина вверх, чтобы превью клиента и сумма платежа совпадали до цента.
func Evaluate(subtotalCents int64, method string, coupon *models.Coupon, now time.Time, fees Fees) (*Quote, error) {
	q := &Quote{
		SubtotalCents: subtotalCents,
		ShippingCents: fees.ShippingCents,
	}

	if method == models.MethodPix {
		q.MethodDiscountCents = percentOf(subtotalCents, fees.PixDiscountPct)
	}

	if coupon != nil {
		discount, err := CouponDiscount(coupon, subtotalCents, now)
		if err != nil {
			return nil, err
		}
		q.CouponDiscountCents = discount
	}

	total := subtotalCents - q.MethodDiscountCents - q.CouponDiscountCents
	if total < 0 {
		total = 0
	}
	q.TotalCents = total + fees.ShippingCents
	return q, nil
}

// CouponDiscount валидирует купон и считает его скидку:
// процентная и фиксированная части суммируются.
func CouponDiscount(coupon *models.Coupon, subtotalCents int64, now time.Time) (int64, error) {
	if coupon == nil || !coupon.Active {
		return 0, ErrCouponInvalid
	}
	if coupon.ExpiresAt != nil && now.After(*coupon.ExpiresAt) {
		return 0, ErrCouponExpired
	}
	if coupon.MaxUses != nil && coupon.UsedCount >= *coupon.MaxUses {
		return 0, ErrCouponExhausted
	}
	if coupon.MinOrderCents > 0 && subtotalCents < coupon.MinOrderCents {
		return 0, ErrCouponBelowMinimum
	}

	discount := percentOf(subtotalCents, coupon.DiscountPercent)
	discount += coupon.DiscountCents
	return discount, nil
}

// percentOf — pct процентов от суммы в центах, округление половина вверх.
func percentOf(amountCents int64, pct int) int64 {
	if pct <= 0 || amountCents <= 0 {
		return 0
	}
	return (amountCents*int64(pct) + 50) / 100
}
