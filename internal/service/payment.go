package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brekpuff/pix-checkout/internal/domain/models"
	"github.com/brekpuff/pix-checkout/internal/gateway"
	"github.com/brekpuff/pix-checkout/internal/session"
	"github.com/brekpuff/pix-checkout/internal/storage"
	"github.com/google/uuid"
)

var (
	// ErrOrderNotPending — заказ уже вышел из pending, операция недоступна.
	ErrOrderNotPending = errors.New("order is not pending")
	// ErrAccessDenied — заказ принадлежит другому пользователю.
	ErrAccessDenied = errors.New("access denied")
	// ErrInvalidTransition — запрошенный переход статуса не разрешен автоматом состояний.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// PaymentService — жизненный цикл оплаты заказа: создание платежа,
// прием подтверждений от процессора и ручные переводы статусов.
type PaymentService interface {
	// CreateCharge создает (или возвращает уже вооруженный) pix-платеж для
	// pending-заказа. Идемпотентен по заказу: двойной клик и повтор после
	// истечения QR не создают два живых платежа.
	CreateCharge(ctx context.Context, userID int64, isAdmin bool, orderID uuid.UUID) (*session.Session, error)
	// ApplySettlement обрабатывает уведомление процессора о платеже.
	// Дубликаты и уведомления по уже терминальным заказам — no-op.
	ApplySettlement(ctx context.Context, chargeRef, status string) error
	// CheckCharge — догоняющий запрос статуса у процессора; если платеж уже
	// подтвержден, применяет оплату. Возвращает true, если заказ оплачен.
	CheckCharge(ctx context.Context, chargeRef string) (bool, error)
	// CancelSession — явная отмена QR до оплаты; заказ остается pending.
	CancelSession(ctx context.Context, userID int64, isAdmin bool, chargeRef string) error
	// AdminSetStatus — ручной перевод статуса, включая ручное подтверждение оплаты.
	AdminSetStatus(ctx context.Context, orderID uuid.UUID, to models.OrderStatus) error
	// AdminDeleteOrder удаляет заказ; допустимо только в pending.
	AdminDeleteOrder(ctx context.Context, orderID uuid.UUID) error
}

type paymentService struct {
	log       *slog.Logger
	orderRepo storage.OrderStorage
	gw        gateway.Gateway
	sessions  *session.Registry
}

func NewPaymentService(log *slog.Logger, orderRepo storage.OrderStorage, gw gateway.Gateway, sessions *session.Registry) PaymentService {
	return &paymentService{
		log:       log,
		orderRepo: orderRepo,
		gw:        gw,
		sessions:  sessions,
	}
}

func (s *paymentService) CreateCharge(ctx context.Context, userID int64, isAdmin bool, orderID uuid.UUID) (*session.Session, error) {
	const op = "service.PaymentService.CreateCharge"
	logger := s.log.With(slog.String("op", op), slog.String("orderID", orderID.String()))

	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		logger.Error("failed to get order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := checkOwner(order, userID, isAdmin); err != nil {
		logger.Warn("order access denied", slog.Int64("userID", userID))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if order.Status != models.OrderStatusPending {
		return nil, fmt.Errorf("%s: %w", op, ErrOrderNotPending)
	}

	// Уже вооруженная сессия возвращается как есть — защита от двойного клика.
	if existing, ok := s.sessions.GetByOrder(orderID); ok {
		logger.Info("returning existing armed session", slog.String("chargeRef", existing.ChargeRef))
		return existing, nil
	}

	charge, err := s.gw.CreateCharge(ctx, orderID, order.TotalCents)
	if err != nil {
		logger.Error("failed to create charge", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Ссылка на платеж и QR сохраняются на заказе: перезапуск сервиса теряет
	// только таймер отображения, не денежное состояние.
	if err := s.orderRepo.SetCharge(ctx, orderID, charge.Ref, charge.QRPayload); err != nil {
		logger.Error("failed to persist charge ref", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sess, _ := s.sessions.Arm(orderID, charge.Ref, charge.QRPayload, charge.QRImageBase64, charge.RedirectLink)
	return sess, nil
}

func (s *paymentService) ApplySettlement(ctx context.Context, chargeRef, status string) error {
	const op = "service.PaymentService.ApplySettlement"
	logger := s.log.With(slog.String("op", op), slog.String("chargeRef", chargeRef), slog.String("status", status))

	// Любой статус кроме approved означает "еще не оплачено" — только логируем.
	if status != "approved" {
		logger.Info("ignoring non-approved settlement event")
		return nil
	}

	order, err := s.orderRepo.GetOrderByChargeRef(ctx, chargeRef)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			logger.Warn("settlement for unknown charge, dropping")
			return nil
		}
		logger.Error("failed to get order by charge ref", slog.Any("error", err))
		return fmt.Errorf("%s: %w", op, err)
	}

	switch order.Status {
	case models.OrderStatusPending:
		// продолжаем — основной путь
	case models.OrderStatusPaid:
		// Повторная доставка того же события — no-op, но сессию добиваем.
		s.sessions.Settle(chargeRef)
		logger.Info("duplicate settlement, order already paid")
		return nil
	default:
		logger.Info("order already terminal, discarding settlement", slog.String("orderStatus", string(order.Status)))
		return nil
	}

	// Атомарный переход pending -> paid: из таймера, вебхука и ручного
	// подтверждения выигрывает ровно один, остальные видят "уже оплачен".
	applied, err := s.orderRepo.UpdateStatusIf(ctx, order.ID, models.OrderStatusPending, models.OrderStatusPaid)
	if err != nil {
		logger.Error("failed to transition order", slog.Any("error", err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if !applied {
		// Проигрыш гонки: перечитываем и смотрим, кто успел.
		current, err := s.orderRepo.GetOrderByID(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if current.Status != models.OrderStatusPaid {
			logger.Info("order left pending by another actor, discarding settlement", slog.String("orderStatus", string(current.Status)))
			return nil
		}
	}

	s.sessions.Settle(chargeRef)
	logger.Info("order paid", slog.String("orderID", order.ID.String()))
	return nil
}

func (s *paymentService) CheckCharge(ctx context.Context, chargeRef string) (bool, error) {
	const op = "service.PaymentService.CheckCharge"

	status, err := s.gw.GetCharge(ctx, chargeRef)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if status != "approved" {
		return false, nil
	}
	if err := s.ApplySettlement(ctx, chargeRef, status); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

func (s *paymentService) CancelSession(ctx context.Context, userID int64, isAdmin bool, chargeRef string) error {
	const op = "service.PaymentService.CancelSession"
	logger := s.log.With(slog.String("op", op), slog.String("chargeRef", chargeRef))

	order, err := s.orderRepo.GetOrderByChargeRef(ctx, chargeRef)
	if err != nil {
		logger.Error("failed to get order", slog.Any("error", err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := checkOwner(order, userID, isAdmin); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.sessions.Cancel(chargeRef)
	logger.Info("payment session cancelled by user", slog.String("orderID", order.ID.String()))
	return nil
}

func (s *paymentService) AdminSetStatus(ctx context.Context, orderID uuid.UUID, to models.OrderStatus) error {
	const op = "service.PaymentService.AdminSetStatus"
	logger := s.log.With(slog.String("op", op), slog.String("orderID", orderID.String()), slog.String("to", string(to)))

	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		logger.Error("failed to get order", slog.Any("error", err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if !models.CanTransition(order.Status, to) {
		return fmt.Errorf("%s: %s -> %s: %w", op, order.Status, to, ErrInvalidTransition)
	}

	applied, err := s.orderRepo.UpdateStatusIf(ctx, orderID, order.Status, to)
	if err != nil {
		logger.Error("failed to update status", slog.Any("error", err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if !applied {
		current, err := s.orderRepo.GetOrderByID(ctx, orderID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if current.Status != to {
			// Статус сменился под ногами на что-то другое — переход уже неприменим.
			return fmt.Errorf("%s: %s -> %s: %w", op, current.Status, to, ErrInvalidTransition)
		}
		// Кто-то успел сделать тот же переход — считаем успехом.
	}

	// Добиваем сессию, если ручной перевод закрывает оплату.
	if order.ChargeRef != nil {
		switch to {
		case models.OrderStatusPaid:
			s.sessions.Settle(*order.ChargeRef)
		case models.OrderStatusCancelled:
			s.sessions.Cancel(*order.ChargeRef)
		}
	}

	logger.Info("order status updated manually")
	return nil
}

func (s *paymentService) AdminDeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	const op = "service.PaymentService.AdminDeleteOrder"

	deleted, err := s.orderRepo.DeleteIfPending(ctx, orderID)
	if err != nil {
		s.log.Error("failed to delete order", slog.String("op", op), slog.Any("error", err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if !deleted {
		// Либо заказа нет, либо он уже не pending — удалять поздно.
		if _, err := s.orderRepo.GetOrderByID(ctx, orderID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s: %w", op, ErrOrderNotPending)
	}
	s.log.Info("order deleted", slog.String("op", op), slog.String("orderID", orderID.String()))
	return nil
}

// checkOwner — заказ доступен владельцу и администратору;
// presencial-заказы (без владельца) — только администратору.
func checkOwner(order *models.Order, userID int64, isAdmin bool) error {
	if isAdmin {
		return nil
	}
	if order.UserID != nil && *order.UserID == userID {
		return nil
	}
	return ErrAccessDenied
}
