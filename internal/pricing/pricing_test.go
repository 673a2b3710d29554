package pricing_test

import (
	"testing"
	"time"

	"github.com/brekpuff/pix-checkout/internal/domain/models"
	"github.com/brekpuff/pix-checkout/internal/pricing"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

var testFees = pricing.Fees{ShippingCents: 1500, PixDiscountPct: 5}

// Корзина на 100.00, оплата pix: скидка 5.00, доставка 15.00, итого 110.00.
func TestEvaluate_PixDiscount(t *testing.T) {
	quote, err := pricing.Evaluate(10000, models.MethodPix, nil, time.Now(), testFees)
	assert.NoError(t, err)
	assert.Equal(t, int64(10000), quote.SubtotalCents)
	assert.Equal(t, int64(500), quote.MethodDiscountCents)
	assert.Equal(t, int64(0), quote.CouponDiscountCents)
	assert.Equal(t, int64(1500), quote.ShippingCents)
	assert.Equal(t, int64(11000), quote.TotalCents)
}

// Оплата ссылкой не дает скидку метода.
func TestEvaluate_LinkNoDiscount(t *testing.T) {
	quote, err := pricing.Evaluate(10000, models.MethodLink, nil, time.Now(), testFees)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), quote.MethodDiscountCents)
	assert.Equal(t, int64(11500), quote.TotalCents)
}

// Округление половина вверх: 5% от 10.10 = 0.505 -> 0.51.
func TestEvaluate_RoundHalfUp(t *testing.T) {
	quote, err := pricing.Evaluate(1010, models.MethodPix, nil, time.Now(), testFees)
	assert.NoError(t, err)
	assert.Equal(t, int64(51), quote.MethodDiscountCents)
}

// Повторный расчет того же входа дает тот же итог до цента.
func TestEvaluate_Deterministic(t *testing.T) {
	now := time.Now()
	first, err := pricing.Evaluate(33333, models.MethodPix, nil, now, testFees)
	assert.NoError(t, err)
	second, err := pricing.Evaluate(33333, models.MethodPix, nil, now, testFees)
	assert.NoError(t, err)
	assert.Equal(t, first.TotalCents, second.TotalCents)
}

// SAVE10: 10%, минимальная сумма 50.00, корзина 30.00 — отказ, итог без купона.
func TestEvaluate_CouponBelowMinimum(t *testing.T) {
	coupon := &models.Coupon{
		ID:              uuid.New(),
		Code:            "SAVE10",
		DiscountPercent: 10,
		MinOrderCents:   5000,
		Active:          true,
	}
	_, err := pricing.Evaluate(3000, models.MethodPix, coupon, time.Now(), testFees)
	assert.ErrorIs(t, err, pricing.ErrCouponBelowMinimum)

	// Без купона заказ считается как обычно.
	quote, err := pricing.Evaluate(3000, models.MethodPix, nil, time.Now(), testFees)
	assert.NoError(t, err)
	assert.Equal(t, int64(3000-150+1500), quote.TotalCents)
}

// Скидки метода и купона складываются: 10% купон + 5% pix от 100.00.
func TestEvaluate_CouponAndPixStack(t *testing.T) {
	coupon := &models.Coupon{
		ID:              uuid.New(),
		Code:            "SAVE10",
		DiscountPercent: 10,
		Active:          true,
	}
	quote, err := pricing.Evaluate(10000, models.MethodPix, coupon, time.Now(), testFees)
	assert.NoError(t, err)
	assert.Equal(t, int64(500), quote.MethodDiscountCents)
	assert.Equal(t, int64(1000), quote.CouponDiscountCents)
	assert.Equal(t, int64(10000), quote.TotalCents)
}

// Фиксированная и процентная части купона суммируются.
func TestCouponDiscount_PercentPlusFixed(t *testing.T) {
	coupon := &models.Coupon{
		ID:              uuid.New(),
		Code:            "COMBO",
		DiscountPercent: 10,
		DiscountCents:   500,
		Active:          true,
	}
	discount, err := pricing.CouponDiscount(coupon, 10000, time.Now())
	assert.NoError(t, err)
	assert.Equal(t, int64(1500), discount)
}

func TestCouponDiscount_Inactive(t *testing.T) {
	coupon := &models.Coupon{ID: uuid.New(), Code: "OLD", DiscountPercent: 10}
	_, err := pricing.CouponDiscount(coupon, 10000, time.Now())
	assert.ErrorIs(t, err, pricing.ErrCouponInvalid)
}

func TestCouponDiscount_Expired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	coupon := &models.Coupon{
		ID:              uuid.New(),
		Code:            "LATE",
		DiscountPercent: 10,
		Active:          true,
		ExpiresAt:       &past,
	}
	_, err := pricing.CouponDiscount(coupon, 10000, time.Now())
	assert.ErrorIs(t, err, pricing.ErrCouponExpired)
}

func TestCouponDiscount_Exhausted(t *testing.T) {
	maxUses := 5
	coupon := &models.Coupon{
		ID:              uuid.New(),
		Code:            "FULL",
		DiscountPercent: 10,
		Active:          true,
		MaxUses:         &maxUses,
		UsedCount:       5,
	}
	_, err := pricing.CouponDiscount(coupon, 10000, time.Now())
	assert.ErrorIs(t, err, pricing.ErrCouponExhausted)
}

// Скидки больше суммы не уводят товары в минус: платится только доставка.
func TestEvaluate_TotalNeverNegative(t *testing.T) {
	coupon := &models.Coupon{
		ID:            uuid.New(),
		Code:          "HUGE",
		DiscountCents: 100000,
		Active:        true,
	}
	quote, err := pricing.Evaluate(1000, models.MethodPix, coupon, time.Now(), testFees)
	assert.NoError(t, err)
	assert.Equal(t, int64(1500), quote.TotalCents)
}
