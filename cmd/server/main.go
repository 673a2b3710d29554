package main

import (
	"context"

	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brekpuff/pix-checkout/internal/app"
	"github.com/brekpuff/pix-checkout/internal/app/handlers"
	"github.com/brekpuff/pix-checkout/internal/auth/jwtmiddleware"
	"github.com/brekpuff/pix-checkout/internal/config"
	"github.com/brekpuff/pix-checkout/internal/gateway"
	"github.com/brekpuff/pix-checkout/internal/lib/logger"
	"github.com/brekpuff/pix-checkout/internal/lib/logger/handlers/urllog"
	"github.com/brekpuff/pix-checkout/internal/pricing"
	"github.com/brekpuff/pix-checkout/internal/service"
	"github.com/brekpuff/pix-checkout/internal/session"
	"github.com/brekpuff/pix-checkout/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
)

func main() {
	// загрузка конфигурации
	cfg := config.MustLoad()

	// инициализация логгера, зависит от настройки окружения
	log := logger.SetupLogger(cfg.Env)
	log.Info("starting app", slog.String("env", cfg.Env))

	// загружаем объект приложения, конфигом и подключением к БД
	application, err := app.NewApp(log, cfg)
	if err != nil {
		log.Error("failed to initialize app", slog.Any("error", err))
		panic(errors.Wrap(err, "failed to initialize app"))
	}
	defer application.DB.Close()

	router := chi.NewRouter()
	// настройка middleware
	router.Use(middleware.RequestID)
	router.Use(urllog.CustomLoggerMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	// реализация слоев по работе с БД по каждому направлению
	userRepo := storage.NewUserRepository(application.DB)
	cartRepo := storage.NewCartRepository(application.DB)
	orderRepo := storage.NewOrderRepository(application.DB)
	couponRepo := storage.NewCouponRepository(application.DB)

	gw := gateway.NewClient(log, cfg.Payment)
	sessions := session.NewRegistry(log, gw, cfg.Payment.SessionTTL, time.Second)

	fees := pricing.Fees{
		ShippingCents:  cfg.Payment.ShippingCents,
		PixDiscountPct: cfg.Payment.PixDiscountPct,
	}

	authService := service.NewAuthService(application.Logger, userRepo, time.Duration(application.Config.JWT.TokenTTL)*time.Minute)
	paymentService := service.NewPaymentService(application.Logger, orderRepo, gw, sessions)
	checkoutService := service.NewCheckoutService(application.Logger, application.DB, cartRepo, orderRepo, couponRepo, paymentService, fees)
	ordersService := service.NewOrdersService(application.Logger, orderRepo)

	// эндпоинт для аутентификации
	router.Post("/api/auth", handlers.AuthHandler(application.Logger, authService))

	// вебхук процессора и SSE-поток — без JWT: процессор не знает наших токенов,
	// а поток привязан к непредсказуемому chargeRef
	router.Post("/api/webhooks/pix", handlers.WebhookHandler(application.Logger, paymentService))
	router.Get("/api/webhooks/pix/{chargeRef}", handlers.EventsHandler(application.Logger, paymentService, sessions))

	router.Group(func(r chi.Router) {
		jwtMW := jwtmiddleware.NewJWTMiddleware()
		r.Use(jwtMW)
		// оформление заказа из корзины
		r.Post("/api/checkout", handlers.CheckoutHandler(application.Logger, checkoutService))
		// заказы текущего пользователя
		r.Get("/api/orders", handlers.OrdersHandler(application.Logger, ordersService))
		// создание/повтор pix-платежа для pending-заказа
		r.Post("/api/orders/{orderID}/pix", handlers.RetryPixHandler(application.Logger, paymentService))
		// отмена QR до оплаты
		r.Post("/api/payments/{chargeRef}/cancel", handlers.CancelPixHandler(application.Logger, paymentService))

		r.Group(func(ar chi.Router) {
			ar.Use(jwtmiddleware.RequireAdmin())
			// продажа на месте: сумма задается администратором
			ar.Post("/api/admin/checkout/presencial", handlers.PresencialHandler(application.Logger, checkoutService))
			// ручной перевод статуса заказа
			ar.Post("/api/admin/orders/{orderID}/status", handlers.SetStatusHandler(application.Logger, paymentService))
			ar.Delete("/api/admin/orders/{orderID}", handlers.DeleteOrderHandler(application.Logger, paymentService))
		})
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}
	// SSE-поток живет дольше обычного запроса
	if srv.WriteTimeout < cfg.Payment.SessionTTL {
		srv.WriteTimeout = cfg.Payment.SessionTTL + time.Minute
	}

	go func() {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.Any("error", err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	stopSign := <-stop
	log.Info("received shutdown signal", slog.String("signal", stopSign.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", slog.Any("error", err))
	}
	// останавливаем таймеры сессий и закрываем подписчиков
	sessions.Shutdown()
	log.Info("server gracefully stopped")
}
