package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/brekpuff/pix-checkout/internal/domain/models"
	"github.com/google/uuid"
)

var (
	ErrCouponNotFound  = errors.New("coupon not found")
	ErrCouponExhausted = errors.New("coupon usage cap reached")
)

// CouponStorage описывает методы для работы с купонами.
type CouponStorage interface {
	// GetCouponByCode ищет купон по коду без учета регистра. Валидность (active,
	// срок, минимальная сумма) проверяется на уровне pricing, не здесь.
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	// IncrementUsageTx увеличивает счетчик использований под транзакцией заказа.
	// Лимит применяется прямо в UPDATE, поэтому счетчик никогда не превысит max_uses,
	// даже если два покупателя одновременно прошли предварительную проверку.
	IncrementUsageTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
}

// couponRepository — конкретная реализация CouponStorage.
type couponRepository struct {
	db *sql.DB
}

// NewCouponRepository создаёт новый репозиторий купонов.
func NewCouponRepository(db *sql.DB) CouponStorage {
	return &couponRepository{db: db}
}

func (r *couponRepository) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	coupon := &models.Coupon{}
	query := `SELECT id, code, discount_percent, discount_cents, min_order_cents,
	       max_uses, used_count, active, expires_at, created_at
	FROM coupons WHERE code = $1`
	row := r.db.QueryRowContext(ctx, query, strings.ToUpper(strings.TrimSpace(code)))

	var maxUses sql.NullInt64
	var expiresAt sql.NullTime
	if err := row.Scan(&coupon.ID, &coupon.Code, &coupon.DiscountPercent, &coupon.DiscountCents,
		&coupon.MinOrderCents, &maxUses, &coupon.UsedCount, &coupon.Active, &expiresAt, &coupon.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	if maxUses.Valid {
		v := int(maxUses.Int64)
		coupon.MaxUses = &v
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		coupon.ExpiresAt = &t
	}
	return coupon, nil
}

func (r *couponRepository) IncrementUsageTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE coupons SET used_count = used_count + 1
		 WHERE id = $1 AND active = TRUE AND (max_uses IS NULL OR used_count < max_uses)`,
		id)
	if err != nil {
		return fmt.Errorf("failed to increment coupon usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCouponExhausted
	}
	return nil
}
