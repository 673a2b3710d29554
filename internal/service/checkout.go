package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brekpuff/pix-checkout/internal/domain/models"
	"github.com/brekpuff/pix-checkout/internal/pricing"
	"github.com/brekpuff/pix-checkout/internal/session"
	"github.com/brekpuff/pix-checkout/internal/storage"
	"github.com/google/uuid"
)

// ErrEmptyCart — оформление с пустой корзиной.
var ErrEmptyCart = errors.New("cart is empty")

// CheckoutRequest — данные оформления заказа.
type CheckoutRequest struct {
	Method     string
	CouponCode string
	Address    models.ShippingAddress
}

// CheckoutResult — созданный заказ с разбивкой суммы и, для pix,
// вооруженной платежной сессией. ChargeFailed означает, что заказ создан,
// но платеж у процессора не создался — клиент может повторить отдельным запросом.
type CheckoutResult struct {
	Order        *models.Order
	Quote        *pricing.Quote
	Session      *session.Session
	ChargeFailed bool
}

// CheckoutService оформляет заказ из корзины.
type CheckoutService interface {
	Checkout(ctx context.Context, userID int64, req CheckoutRequest) (*CheckoutResult, error)
	// CreatePresencialOrder — продажа на месте: заказ без владельца и без
	// корзины, сумма задается администратором напрямую.
	CreatePresencialOrder(ctx context.Context, totalCents int64) (*CheckoutResult, error)
}

type checkoutService struct {
	log        *slog.Logger
	db         *sql.DB
	cartRepo   storage.CartStorage
	orderRepo  storage.OrderStorage
	couponRepo storage.CouponStorage
	payments   PaymentService
	fees       pricing.Fees
}

func NewCheckoutService(log *slog.Logger, db *sql.DB, cartRepo storage.CartStorage, orderRepo storage.OrderStorage,
	couponRepo storage.CouponStorage, payments PaymentService, fees pricing.Fees) CheckoutService {
	return &checkoutService{
		log:        log,
		db:         db,
		cartRepo:   cartRepo,
		orderRepo:  orderRepo,
		couponRepo: couponRepo,
		payments:   payments,
		fees:       fees,
	}
}

// Checkout создает заказ одной транзакцией: позиции из корзины (снимок цен),
// списание использования купона и очистка корзины. Если любой шаг падает,
// транзакция откатывается — заказ не остается полузаполненным.
func (s *checkoutService) Checkout(ctx context.Context, userID int64, req CheckoutRequest) (*CheckoutResult, error) {
	const op = "service.CheckoutService.Checkout"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID), slog.String("method", req.Method))
	logger.Info("starting checkout transaction")

	// Купон читается до транзакции: проверка здесь только предварительная,
	// реальный лимит применяется в IncrementUsageTx внутри транзакции.
	var coupon *models.Coupon
	if req.CouponCode != "" {
		var err error
		coupon, err = s.couponRepo.GetCouponByCode(ctx, req.CouponCode)
		if err != nil {
			if errors.Is(err, storage.ErrCouponNotFound) {
				return nil, fmt.Errorf("%s: %w", op, pricing.ErrCouponInvalid)
			}
			logger.Error("failed to get coupon", slog.Any("error", err))
			return nil, fmt.Errorf("%s: failed to get coupon: %w", op, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	items, err := s.cartRepo.GetItemsByUserIDTx(ctx, tx, userID)
	if err != nil {
		rollback(logger, tx)
		logger.Error("failed to get cart items", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get cart items: %w", op, err)
	}
	if len(items) == 0 {
		rollback(logger, tx)
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyCart)
	}

	var subtotal int64
	for _, item := range items {
		subtotal += int64(item.Qty) * item.PriceCents
	}

	quote, err := pricing.Evaluate(subtotal, req.Method, coupon, time.Now(), s.fees)
	if err != nil {
		rollback(logger, tx)
		logger.Warn("coupon rejected", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	order := &models.Order{
		ID:              uuid.New(),
		UserID:          &userID,
		Status:          models.OrderStatusPending,
		TotalCents:      quote.TotalCents,
		PaymentMethod:   req.Method,
		ShippingAddress: req.Address,
	}
	if coupon != nil {
		order.CouponID = &coupon.ID
	}

	if err := s.orderRepo.CreateOrderTx(ctx, tx, order); err != nil {
		rollback(logger, tx)
		logger.Error("failed to create order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to create order: %w", op, err)
	}

	orderItems := make([]*models.OrderItem, 0, len(items))
	for _, item := range items {
		orderItems = append(orderItems, &models.OrderItem{
			OrderID:    order.ID,
			ProductID:  item.ProductID,
			Qty:        item.Qty,
			PriceCents: item.PriceCents, // снимок цены, дальше не перечитывается
		})
	}
	if err := s.orderRepo.CreateOrderItemsTx(ctx, tx, order.ID, orderItems); err != nil {
		rollback(logger, tx)
		logger.Error("failed to create order items", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to create order items: %w", op, err)
	}

	// Счетчик купона увеличивается только при создании заказа, не при "применении"
	// на клиенте. Если лимит выбрали между превью и оформлением — откатываемся.
	if coupon != nil {
		if err := s.couponRepo.IncrementUsageTx(ctx, tx, coupon.ID); err != nil {
			rollback(logger, tx)
			if errors.Is(err, storage.ErrCouponExhausted) {
				logger.Warn("coupon exhausted at creation time")
				return nil, fmt.Errorf("%s: %w", op, pricing.ErrCouponExhausted)
			}
			logger.Error("failed to increment coupon usage", slog.Any("error", err))
			return nil, fmt.Errorf("%s: failed to increment coupon usage: %w", op, err)
		}
	}

	if err := s.cartRepo.ClearByUserIDTx(ctx, tx, userID); err != nil {
		rollback(logger, tx)
		logger.Error("failed to clear cart", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to clear cart: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	result := &CheckoutResult{Order: order, Quote: quote}

	// Платеж создается после коммита: заказ уже существует, ошибка процессора
	// не отменяет его — клиент повторит создание QR отдельным запросом.
	if req.Method == models.MethodPix {
		sess, err := s.payments.CreateCharge(ctx, userID, false, order.ID)
		if err != nil {
			logger.Error("failed to create pix charge", slog.Any("error", err))
			result.ChargeFailed = true
		} else {
			result.Session = sess
		}
	}

	logger.Info("checkout completed",
		slog.String("orderID", order.ID.String()),
		slog.Int64("totalCents", quote.TotalCents),
	)
	return result, nil
}

func (s *checkoutService) CreatePresencialOrder(ctx context.Context, totalCents int64) (*CheckoutResult, error) {
	const op = "service.CheckoutService.CreatePresencialOrder"
	logger := s.log.With(slog.String("op", op), slog.Int64("totalCents", totalCents))

	if totalCents <= 0 {
		return nil, fmt.Errorf("%s: amount must be positive", op)
	}

	order := &models.Order{
		ID:              uuid.New(),
		UserID:          nil, // продажа на месте, владельца нет
		Status:          models.OrderStatusPending,
		TotalCents:      totalCents,
		PaymentMethod:   models.MethodPix,
		ShippingAddress: models.ShippingAddress{Type: "presencial"},
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	if err := s.orderRepo.CreateOrderTx(ctx, tx, order); err != nil {
		rollback(logger, tx)
		logger.Error("failed to create order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to create order: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	result := &CheckoutResult{Order: order}

	sess, err := s.payments.CreateCharge(ctx, 0, true, order.ID)
	if err != nil {
		logger.Error("failed to create pix charge", slog.Any("error", err))
		result.ChargeFailed = true
		return result, nil
	}
	result.Session = sess

	logger.Info("presencial order created", slog.String("orderID", order.ID.String()))
	return result, nil
}

func rollback(logger *slog.Logger, tx *sql.Tx) {
	if rbErr := tx.Rollback(); rbErr != nil {
		logger.Error("transaction rollback failed", slog.Any("error", rbErr))
	}
}
