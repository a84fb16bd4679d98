package settlement

import (
	"ticketing-settlement/services/reauth"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("settlement.service",
	fx.Provide(
		NewService,
		provideHandler,
		NewSweeper,
	),
	fx.Invoke(registerRoutes, StartSweeper),
)

func provideHandler(svc *Service, elevation *reauth.Service) *Handler {
	return NewHandler(svc, elevation)
}

func registerRoutes(r *gin.Engine, h *Handler) {
	h.Register(r)
}

// AutoMigrate creates every settlement table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
