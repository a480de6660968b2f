package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/medibook/medibook/internal/config"
	v1 "github.com/medibook/medibook/internal/handler/v1"
	"github.com/medibook/medibook/internal/repository/postgres"
	"github.com/medibook/medibook/internal/service"
	"github.com/medibook/medibook/internal/video"
	"github.com/medibook/medibook/pkg/auth"
	"github.com/medibook/medibook/pkg/database"
	"github.com/medibook/medibook/pkg/logger"
	"github.com/medibook/medibook/pkg/metrics"
	"github.com/medibook/medibook/pkg/tracer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config: " + err.Error())
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("logger: " + err.Error())
	}
	defer log.Sync() //nolint:errcheck

	tp, err := tracer.Init(cfg.Tracing)
	if err != nil {
		log.Fatal("tracer init failed", zap.Error(err))
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	if err := database.Migrate(db, log); err != nil {
		log.Fatal("database migration failed", zap.Error(err))
	}

	collector := metrics.NewCollector(cfg.App.Name)

	// Repositories.
	userRepo := postgres.NewUserRepo(db)
	availRepo := postgres.NewAvailabilityRepo(db)
	apptRepo := postgres.NewAppointmentRepo(db)
	ledgerRepo := postgres.NewLedgerRepo(db)
	auditRepo := postgres.NewAuditRepo(db)
	txManager := postgres.NewTxManager(db)

	jwtManager := auth.NewJWTManager(cfg.JWT)
	videoClient := video.NewClient(cfg.Video, log)

	// Services.
	auditSvc := service.NewAuditService(auditRepo, collector, log)
	authSvc := service.NewAuthService(userRepo, ledgerRepo, txManager, jwtManager, cfg.Credits, auditSvc, log)
	userSvc := service.NewUserService(userRepo, auditSvc, log)
	availabilitySvc := service.NewAvailabilityService(availRepo, userRepo, auditSvc, log)
	slotSvc := service.NewSlotService(availRepo, apptRepo, userRepo, collector, cfg.Booking.HorizonDays, log)
	bookingSvc := service.NewBookingService(apptRepo, userRepo, availRepo, ledgerRepo, videoClient, txManager, auditSvc, collector, cfg.Booking, log)
	creditSvc := service.NewCreditService(ledgerRepo, userRepo, txManager, collector, cfg.Credits, log)

	router := v1.NewRouter(cfg, &v1.Handlers{
		Auth:        v1.NewAuthHandler(authSvc),
		User:        v1.NewUserHandler(userSvc),
		Appointment: v1.NewAppointmentHandler(bookingSvc, slotSvc, availabilitySvc),
		Credit:      v1.NewCreditHandler(creditSvc),
	}, jwtManager, collector, log)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.App.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}

	// Drain buffered audit writes before the process exits.
	auditSvc.Shutdown()

	if tp != nil {
		if err := tp.Shutdown(ctx); err != nil {
			log.Error("tracer shutdown failed", zap.Error(err))
		}
	}

	log.Info("server stopped")
}
