package v1

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/medibook/medibook/internal/config"
	"github.com/medibook/medibook/internal/domain"
	"github.com/medibook/medibook/pkg/auth"
	"github.com/medibook/medibook/pkg/metrics"
)

type Handlers struct {
	Auth        *AuthHandler
	User        *UserHandler
	Appointment *AppointmentHandler
	Credit      *CreditHandler
}

// NewRouter assembles the HTTP surface. Public routes are doctor discovery
// and slot listing; everything that reads or mutates caller-owned state sits
// behind the JWT middleware.
func NewRouter(cfg *config.Config, handlers *Handlers, jwtManager *auth.JWTManager, collector *metrics.Collector, log *zap.Logger) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(Metrics(collector))
	router.Use(RateLimit(cfg.RateLimit))
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORS.AllowedOrigins,
		AllowMethods: cfg.CORS.AllowedMethods,
		AllowHeaders: cfg.CORS.AllowedHeaders,
		MaxAge:       cfg.CORS.MaxAge,
	}))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": cfg.App.Name})
	})
	router.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	api := router.Group("/api/v1")

	// Public.
	api.POST("/auth/register", handlers.Auth.Register)
	api.POST("/auth/login", handlers.Auth.Login)
	api.POST("/auth/refresh", handlers.Auth.Refresh)
	api.GET("/doctors", handlers.User.ListDoctors)
	api.GET("/doctors/:id", handlers.User.GetDoctor)
	api.GET("/doctors/:id/slots", handlers.Appointment.DoctorSlots)

	// Authenticated.
	authed := api.Group("")
	authed.Use(AuthRequired(jwtManager))
	{
		authed.GET("/me", handlers.User.Me)
		authed.PUT("/me/role", handlers.User.SetRole)

		authed.GET("/credits/balance", handlers.Credit.Balance)
		authed.GET("/credits/transactions", handlers.Credit.History)
		authed.POST("/credits/purchase", handlers.Credit.Purchase)

		authed.GET("/appointments", handlers.Appointment.List)
		authed.GET("/appointments/:id", handlers.Appointment.Get)
		authed.POST("/appointments/:id/cancel", handlers.Appointment.Cancel)
		authed.POST("/appointments/:id/video-token", handlers.Appointment.VideoToken)
	}

	patients := authed.Group("")
	patients.Use(RequireRole(domain.RolePatient))
	{
		patients.POST("/appointments", handlers.Appointment.Reserve)
	}

	doctors := authed.Group("")
	doctors.Use(RequireRole(domain.RoleDoctor))
	{
		doctors.GET("/me/availability", handlers.Appointment.MyAvailability)
		doctors.PUT("/me/availability", handlers.Appointment.SetAvailability)
		doctors.POST("/appointments/:id/complete", handlers.Appointment.Complete)
	}

	admins := authed.Group("")
	admins.Use(RequireRole(domain.RoleAdmin))
	{
		admins.PATCH("/admin/doctors/:id/verification", handlers.User.SetVerificationStatus)
	}

	return router
}
