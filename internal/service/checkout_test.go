package service_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brekpuff/pix-checkout/internal/domain/models"
	"github.com/brekpuff/pix-checkout/internal/pricing"
	"github.com/brekpuff/pix-checkout/internal/service"
	"github.com/brekpuff/pix-checkout/internal/session"
	"github.com/brekpuff/pix-checkout/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type fakeCartRepo struct {
	items   map[int64][]*models.CartItem // ключ: userID
	cleared map[int64]bool
}

var _ storage.CartStorage = (*fakeCartRepo)(nil)

func newFakeCartRepo() *fakeCartRepo {
	return &fakeCartRepo{
		items:   make(map[int64][]*models.CartItem),
		cleared: make(map[int64]bool),
	}
}

func (f *fakeCartRepo) GetItemsByUserIDTx(ctx context.Context, tx *sql.Tx, userID int64) ([]*models.CartItem, error) {
	return f.items[userID], nil
}

func (f *fakeCartRepo) ClearByUserIDTx(ctx context.Context, tx *sql.Tx, userID int64) error {
	f.cleared[userID] = true
	f.items[userID] = nil
	return nil
}

type fakeCouponRepo struct {
	coupons   map[string]*models.Coupon // ключ — код купона
	exhausted bool                      // лимит выбран в момент инкремента
	usageByID map[uuid.UUID]int
}

var _ storage.CouponStorage = (*fakeCouponRepo)(nil)

func newFakeCouponRepo() *fakeCouponRepo {
	return &fakeCouponRepo{
		coupons:   make(map[string]*models.Coupon),
		usageByID: make(map[uuid.UUID]int),
	}
}

func (f *fakeCouponRepo) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	coupon, ok := f.coupons[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, storage.ErrCouponNotFound
	}
	return coupon, nil
}

func (f *fakeCouponRepo) IncrementUsageTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	if f.exhausted {
		return storage.ErrCouponExhausted
	}
	f.usageByID[id]++
	return nil
}

// fakePaymentSvc подменяет платежный сервис на этапе оформления.
type fakePaymentSvc struct {
	failCreate  bool
	createdFor  []uuid.UUID
	sessionStub *session.Session
}

var _ service.PaymentService = (*fakePaymentSvc)(nil)

func (f *fakePaymentSvc) CreateCharge(ctx context.Context, userID int64, isAdmin bool, orderID uuid.UUID) (*session.Session, error) {
	if f.failCreate {
		return nil, errors.New("processor down")
	}
	f.createdFor = append(f.createdFor, orderID)
	if f.sessionStub != nil {
		return f.sessionStub, nil
	}
	return &session.Session{OrderID: orderID, ChargeRef: "charge-test", QRPayload: "qr-test"}, nil
}

func (f *fakePaymentSvc) ApplySettlement(ctx context.Context, chargeRef, status string) error {
	return nil
}

func (f *fakePaymentSvc) CheckCharge(ctx context.Context, chargeRef string) (bool, error) {
	return false, nil
}

func (f *fakePaymentSvc) CancelSession(ctx context.Context, userID int64, isAdmin bool, chargeRef string) error {
	return nil
}

func (f *fakePaymentSvc) AdminSetStatus(ctx context.Context, orderID uuid.UUID, to models.OrderStatus) error {
	return nil
}

func (f *fakePaymentSvc) AdminDeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	return nil
}

var checkoutFees = pricing.Fees{ShippingCents: 1500, PixDiscountPct: 5}

func fillCart(cartRepo *fakeCartRepo, userID int64, priceCents int64, qty int) {
	cartRepo.items[userID] = []*models.CartItem{
		{ID: 1, UserID: userID, ProductID: uuid.New(), Qty: qty, PriceCents: priceCents},
	}
}

func TestCheckout_Pix_Success(t *testing.T) {
	// Используем sqlmock для создания фиктивной БД.
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	orderRepo := newFakeOrderRepo()
	cartRepo := newFakeCartRepo()
	couponRepo := newFakeCouponRepo()
	payments := &fakePaymentSvc{}

	userID := int64(1)
	// Корзина на 100.00: pix-скидка 5.00, доставка 15.00, итого 110.00.
	fillCart(cartRepo, userID, 5000, 2)

	svc := service.NewCheckoutService(testLogger(), db, cartRepo, orderRepo, couponRepo, payments, checkoutFees)
	result, err := svc.Checkout(context.Background(), userID, service.CheckoutRequest{Method: models.MethodPix})
	assert.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, result.Order.Status)
	assert.Equal(t, int64(11000), result.Order.TotalCents)
	assert.Equal(t, int64(500), result.Quote.MethodDiscountCents)
	assert.NotNil(t, result.Session)
	assert.False(t, result.ChargeFailed)

	// Корзина очищена, платеж создан для этого заказа.
	assert.True(t, cartRepo.cleared[userID])
	assert.Equal(t, []uuid.UUID{result.Order.ID}, payments.createdFor)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckout_EmptyCart(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	svc := service.NewCheckoutService(testLogger(), db, newFakeCartRepo(), newFakeOrderRepo(),
		newFakeCouponRepo(), &fakePaymentSvc{}, checkoutFees)

	_, err = svc.Checkout(context.Background(), 1, service.CheckoutRequest{Method: models.MethodPix})
	assert.ErrorIs(t, err, service.ErrEmptyCart)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// Неизвестный код купона: отказ до открытия транзакции.
func TestCheckout_UnknownCoupon(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	cartRepo := newFakeCartRepo()
	fillCart(cartRepo, 1, 5000, 2)

	svc := service.NewCheckoutService(testLogger(), db, cartRepo, newFakeOrderRepo(),
		newFakeCouponRepo(), &fakePaymentSvc{}, checkoutFees)

	_, err = svc.Checkout(context.Background(), 1, service.CheckoutRequest{
		Method:     models.MethodPix,
		CouponCode: "NOPE",
	})
	assert.ErrorIs(t, err, pricing.ErrCouponInvalid)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// Корзина ниже минимальной суммы купона: транзакция откатывается.
func TestCheckout_CouponBelowMinimum(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	cartRepo := newFakeCartRepo()
	fillCart(cartRepo, 1, 3000, 1) // 30.00 < 50.00

	couponRepo := newFakeCouponRepo()
	couponRepo.coupons["SAVE10"] = &models.Coupon{
		ID:              uuid.New(),
		Code:            "SAVE10",
		DiscountPercent: 10,
		MinOrderCents:   5000,
		Active:          true,
	}

	svc := service.NewCheckoutService(testLogger(), db, cartRepo, newFakeOrderRepo(),
		couponRepo, &fakePaymentSvc{}, checkoutFees)

	_, err = svc.Checkout(context.Background(), 1, service.CheckoutRequest{
		Method:     models.MethodPix,
		CouponCode: "save10",
	})
	assert.ErrorIs(t, err, pricing.ErrCouponBelowMinimum)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// Лимит купона выбрали между предварительной проверкой и оформлением:
// инкремент не проходит, вся транзакция откатывается.
func TestCheckout_CouponExhaustedAtCreation(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	cartRepo := newFakeCartRepo()
	fillCart(cartRepo, 1, 10000, 1)

	maxUses := 100
	couponRepo := newFakeCouponRepo()
	couponRepo.coupons["SAVE10"] = &models.Coupon{
		ID:              uuid.New(),
		Code:            "SAVE10",
		DiscountPercent: 10,
		MaxUses:         &maxUses,
		UsedCount:       50, // предварительная проверка проходит
		Active:          true,
	}
	couponRepo.exhausted = true

	orderRepo := newFakeOrderRepo()
	svc := service.NewCheckoutService(testLogger(), db, cartRepo, orderRepo,
		couponRepo, &fakePaymentSvc{}, checkoutFees)

	_, err = svc.Checkout(context.Background(), 1, service.CheckoutRequest{
		Method:     models.MethodPix,
		CouponCode: "SAVE10",
	})
	assert.ErrorIs(t, err, pricing.ErrCouponExhausted)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// Купон учитывается в итогах и списывается ровно один раз.
func TestCheckout_CouponApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	cartRepo := newFakeCartRepo()
	fillCart(cartRepo, 1, 10000, 1)

	couponID := uuid.New()
	couponRepo := newFakeCouponRepo()
	couponRepo.coupons["SAVE10"] = &models.Coupon{
		ID:              couponID,
		Code:            "SAVE10",
		DiscountPercent: 10,
		Active:          true,
	}

	svc := service.NewCheckoutService(testLogger(), db, cartRepo, newFakeOrderRepo(),
		couponRepo, &fakePaymentSvc{}, checkoutFees)

	result, err := svc.Checkout(context.Background(), 1, service.CheckoutRequest{
		Method:     models.MethodPix,
		CouponCode: "SAVE10",
	})
	assert.NoError(t, err)

	// 100.00 - 5.00 (pix) - 10.00 (купон) + 15.00 = 100.00
	assert.Equal(t, int64(10000), result.Order.TotalCents)
	assert.Equal(t, int64(1000), result.Quote.CouponDiscountCents)
	assert.NotNil(t, result.Order.CouponID)
	assert.Equal(t, couponID, *result.Order.CouponID)
	assert.Equal(t, 1, couponRepo.usageByID[couponID])

	assert.NoError(t, mock.ExpectationsWereMet())
}

// Процессор недоступен: заказ создан, клиент получает его с флагом
// неудачного платежа и повторяет создание QR позже.
func TestCheckout_ChargeFailureKeepsOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	cartRepo := newFakeCartRepo()
	fillCart(cartRepo, 1, 10000, 1)

	orderRepo := newFakeOrderRepo()
	svc := service.NewCheckoutService(testLogger(), db, cartRepo, orderRepo,
		newFakeCouponRepo(), &fakePaymentSvc{failCreate: true}, checkoutFees)

	result, err := svc.Checkout(context.Background(), 1, service.CheckoutRequest{Method: models.MethodPix})
	assert.NoError(t, err, "checkout must not fail because of the processor")
	assert.True(t, result.ChargeFailed)
	assert.Nil(t, result.Session)

	stored, err := orderRepo.GetOrderByID(context.Background(), result.Order.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// Оплата не pix: платеж не создается вовсе.
func TestCheckout_LinkMethod_NoCharge(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	cartRepo := newFakeCartRepo()
	fillCart(cartRepo, 1, 10000, 1)

	payments := &fakePaymentSvc{}
	svc := service.NewCheckoutService(testLogger(), db, cartRepo, newFakeOrderRepo(),
		newFakeCouponRepo(), payments, checkoutFees)

	result, err := svc.Checkout(context.Background(), 1, service.CheckoutRequest{Method: models.MethodLink})
	assert.NoError(t, err)
	assert.Nil(t, result.Session)
	assert.Empty(t, payments.createdFor)
	assert.Equal(t, int64(11500), result.Order.TotalCents)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePresencialOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	orderRepo := newFakeOrderRepo()
	payments := &fakePaymentSvc{}
	svc := service.NewCheckoutService(testLogger(), db, newFakeCartRepo(), orderRepo,
		newFakeCouponRepo(), payments, checkoutFees)

	result, err := svc.CreatePresencialOrder(context.Background(), 4200)
	assert.NoError(t, err)
	assert.Nil(t, result.Order.UserID, "presencial order has no owner")
	assert.Equal(t, "presencial", result.Order.ShippingAddress.Type)
	assert.Equal(t, int64(4200), result.Order.TotalCents)
	assert.NotNil(t, result.Session)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePresencialOrder_InvalidAmount(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	svc := service.NewCheckoutService(testLogger(), db, newFakeCartRepo(), newFakeOrderRepo(),
		newFakeCouponRepo(), &fakePaymentSvc{}, checkoutFees)

	_, err = svc.CreatePresencialOrder(context.Background(), 0)
	assert.Error(t, err)
}
