package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/fixflow/backend/internal/config"
	"github.com/fixflow/backend/internal/db"
	"github.com/fixflow/backend/internal/http/handlers"
	"github.com/fixflow/backend/internal/http/middleware"
	"github.com/fixflow/backend/internal/service"

	_ "github.com/fixflow/backend/docs"
)

func Router(cfg config.Config, store *db.Store, appointments *service.AppointmentService, converter *service.Converter, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:        store,
		Appointments: appointments,
		Converter:    converter,
		Validator:    validator.New(),
		Logger:       logger,
		AdminKey:     cfg.AdminKey,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/appointments", h.AppointmentsList)
		api.POST("/appointments", h.AppointmentCreate)
		api.GET("/appointments/:id", h.AppointmentDetails)
		api.PATCH("/appointments/:id", h.AppointmentUpdate)
		api.POST("/appointments/:id/confirm", h.AppointmentConfirm)
		api.POST("/appointments/:id/check-in", h.AppointmentCheckIn)
		api.POST("/appointments/:id/cancel", h.AppointmentCancel)
		api.POST("/appointments/:id/no-show", h.AppointmentNoShow)
		api.POST("/appointments/:id/convert", h.AppointmentConvert)
		api.GET("/tickets", h.TicketsList)
		api.GET("/tickets/:id", h.TicketDetails)
		api.GET("/customers/:id/devices", h.CustomerDevicesList)
		api.GET("/services", h.ServicesList)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/appointments/:id/relink", h.AdminRelink)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
