package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brekpuff/pix-checkout/internal/domain/models"
	"github.com/brekpuff/pix-checkout/internal/storage"
)

// OrdersService определяет интерфейс для получения заказов пользователя.
type OrdersService interface {
	GetOrders(ctx context.Context, userID int64) ([]*models.Order, error)
}

// ordersService — конкретная реализация OrdersService.
type ordersService struct {
	log       *slog.Logger
	orderRepo storage.OrderStorage
}

func NewOrdersService(log *slog.Logger, orderRepo storage.OrderStorage) OrdersService {
	return &ordersService{
		log:       log,
		orderRepo: orderRepo,
	}
}

// GetOrders возвращает заказы пользователя для страницы аккаунта.
func (s *ordersService) GetOrders(ctx context.Context, userID int64) ([]*models.Order, error) {
	const op = "service.OrdersService.GetOrders"
	s.log.Info("getting orders", slog.String("op", op), slog.Int64("userID", userID))

	orders, err := s.orderRepo.GetOrdersByUserID(ctx, userID)
	if err != nil {
		s.log.Error("failed to get orders", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get orders: %w", op, err)
	}
	return orders, nil
}
