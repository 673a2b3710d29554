package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/brekpuff/pix-checkout/internal/domain/models"
)

// CartStorage описывает методы для работы с корзиной.
// Корзина читается и очищается только внутри транзакции оформления заказа.
type CartStorage interface {
	// GetItemsByUserIDTx возвращает позиции корзины с JOIN для получения текущей цены товара.
	GetItemsByUserIDTx(ctx context.Context, tx *sql.Tx, userID int64) ([]*models.CartItem, error)
	// ClearByUserIDTx удаляет все позиции корзины пользователя.
	ClearByUserIDTx(ctx context.Context, tx *sql.Tx, userID int64) error
}

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository создаёт новый репозиторий корзины.
func NewCartRepository(db *sql.DB) CartStorage {
	return &cartRepository{db: db}
}

// GetItemsByUserIDTx читает корзину под транзакцией: цена берется из products
// на момент оформления и дальше копируется в позиции заказа.
func (r *cartRepository) GetItemsByUserIDTx(ctx context.Context, tx *sql.Tx, userID int64) ([]*models.CartItem, error) {
	query := `
		SELECT c.id, c.user_id, c.product_id, c.qty, p.price_cents
		FROM cart_items c
		JOIN products p ON c.product_id = p.id
		WHERE c.user_id = $1 AND p.active = TRUE
		ORDER BY c.id`
	rows, err := tx.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.CartItem
	for rows.Next() {
		item := &models.CartItem{}
		if err := rows.Scan(&item.ID, &item.UserID, &item.ProductID, &item.Qty, &item.PriceCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// ClearByUserIDTx очищает корзину; вызывается в той же транзакции, что и создание заказа.
func (r *cartRepository) ClearByUserIDTx(ctx context.Context, tx *sql.Tx, userID int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}
