// Package main запускает HTTP-сервер POS-системы.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/khatapos-system/internal/cart"
	"github.com/mmeshcher/khatapos-system/internal/config"
	"github.com/mmeshcher/khatapos-system/internal/handler"
	"github.com/mmeshcher/khatapos-system/internal/middleware"
	"github.com/mmeshcher/khatapos-system/internal/notify"
	"github.com/mmeshcher/khatapos-system/internal/receipt"
	"github.com/mmeshcher/khatapos-system/internal/repository"
	"github.com/mmeshcher/khatapos-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var printer *receipt.Client
	if cfg.ReceiptPrinterAddress != "" {
		printer = receipt.NewClient(cfg.ReceiptPrinterAddress)
	}

	notifier := notify.NewBroadcaster()
	events := notifier.Subscribe()
	invalidations := notifier.SubscribeInvalidations()

	var svcPrinter service.Printer
	if printer != nil {
		svcPrinter = printer
	}

	svc := service.NewService(repo, cart.NewStore(), svcPrinter, notifier, logger, cfg.AllowNegativeStock)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой отправки чеков на печать
	g.Go(func() error {
		svc.StartReceiptDispatch(ctx)
		return nil
	})

	// Вывод уведомлений ядра в журнал
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case e := <-events:
				sugar.Infow("event", "type", string(e.Type), "message", e.Message)
			case scope := <-invalidations:
				sugar.Debugw("stale", "scope", scope)
			}
		}
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting khatapos server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
