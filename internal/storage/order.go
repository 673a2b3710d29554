package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/brekpuff/pix-checkout/internal/domain/models"
	"github.com/google/uuid"
)

var ErrOrderNotFound = errors.New("order not found")

// OrderStorage описывает методы для работы с заказами.
type OrderStorage interface {
	// CreateOrderTx вставляет новый заказ; вызывается в транзакции оформления.
	CreateOrderTx(ctx context.Context, tx *sql.Tx, order *models.Order) error
	// CreateOrderItemsTx вставляет позиции заказа (снимок цен) в той же транзакции.
	CreateOrderItemsTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, items []*models.OrderItem) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetOrderByChargeRef(ctx context.Context, chargeRef string) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]*models.Order, error)
	// UpdateStatusIf — условное обновление статуса (compare-and-swap).
	// Возвращает false без ошибки, если текущий статус не равен from:
	// вызывающий сам решает, проигрыш это гонки или недопустимый переход.
	UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to models.OrderStatus) (bool, error)
	// SetCharge сохраняет на заказе ссылку на платеж у процессора и QR-код.
	SetCharge(ctx context.Context, id uuid.UUID, chargeRef, qrPayload string) error
	// DeleteIfPending удаляет заказ, только пока он в pending.
	DeleteIfPending(ctx context.Context, id uuid.UUID) (bool, error)
}

// orderRepository — конкретная реализация OrderStorage.
type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *sql.DB) OrderStorage {
	return &orderRepository{db: db}
}

const orderColumns = `id, user_id, status, total_cents, payment_method, coupon_id, charge_ref, qr_payload, shipping_address, created_at, updated_at`

func (r *orderRepository) CreateOrderTx(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	addr, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to marshal shipping address: %w", err)
	}
	query := `INSERT INTO orders (id, user_id, status, total_cents, payment_method, coupon_id, shipping_address, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`
	_, err = tx.ExecContext(ctx, query,
		order.ID, order.UserID, order.Status, order.TotalCents, order.PaymentMethod, order.CouponID, addr)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *orderRepository) CreateOrderItemsTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, items []*models.OrderItem) error {
	query := `INSERT INTO order_items (order_id, product_id, qty, price_cents) VALUES ($1, $2, $3, $4)`
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, query, orderID, item.ProductID, item.Qty, item.PriceCents); err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}
	return nil
}

func (r *orderRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	return scanOrder(row)
}

func (r *orderRepository) GetOrderByChargeRef(ctx context.Context, chargeRef string) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE charge_ref = $1", chargeRef)
	return scanOrder(row)
}

func (r *orderRepository) GetOrdersByUserID(ctx context.Context, userID int64) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatusIf — атомарный переход статуса: запись применяется только если
// текущий статус совпадает с ожидаемым. Из конкурирующих вызовов выигрывает ровно один.
func (r *orderRepository) UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to models.OrderStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *orderRepository) SetCharge(ctx context.Context, id uuid.UUID, chargeRef, qrPayload string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE orders SET charge_ref = $1, qr_payload = $2, updated_at = NOW() WHERE id = $3",
		chargeRef, qrPayload, id)
	if err != nil {
		return fmt.Errorf("failed to set charge ref: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) DeleteIfPending(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM orders WHERE id = $1 AND status = $2", id, models.OrderStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to delete order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// scanner покрывает и *sql.Row, и *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scanner) (*models.Order, error) {
	order := &models.Order{}
	var userID sql.NullInt64
	var couponID, chargeRef, qrPayload sql.NullString
	var addr []byte

	if err := row.Scan(&order.ID, &userID, &order.Status, &order.TotalCents, &order.PaymentMethod,
		&couponID, &chargeRef, &qrPayload, &addr, &order.CreatedAt, &order.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if userID.Valid {
		v := userID.Int64
		order.UserID = &v
	}
	if couponID.Valid {
		id, err := uuid.Parse(couponID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid coupon id on order: %w", err)
		}
		order.CouponID = &id
	}
	if chargeRef.Valid {
		order.ChargeRef = &chargeRef.String
	}
	if qrPayload.Valid {
		order.QRPayload = &qrPayload.String
	}
	if len(addr) > 0 {
		if err := json.Unmarshal(addr, &order.ShippingAddress); err != nil {
			return nil, fmt.Errorf("invalid shipping address on order: %w", err)
		}
	}
	return order, nil
}
