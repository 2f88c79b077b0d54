package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/domain"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/logger"
)

// NewRouter wires every route. metricsHandler and profiler may be nil.
func NewRouter(h *Handler, metricsHandler, profiler http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(logger.GinMiddleware("/health", "/metrics"))
	r.Use(RecoveryMiddleware())
	r.Use(CORSMiddleware())

	auth := AuthMiddleware(h.users)

	api := r.Group("/api")
	{
		api.POST("/auth/login", h.Login)

		user := api.Group("", auth)
		{
			user.GET("/fight", h.GetFight)
			user.GET("/me", h.Me)
			user.GET("/me/history", h.MyHistory)
			user.GET("/me/stats", h.MyStats)
			user.POST("/wagers", RequireRole(domain.RoleParticipant), h.PlaceWager)
		}

		admin := api.Group("/admin", auth, RequireRole(domain.RoleOperator))
		{
			admin.POST("/fight/open", h.OpenRound)
			admin.POST("/fight/close", h.CloseRound)
			admin.PUT("/fight/number", h.SetNumber)
			admin.PUT("/fight/odds", h.SetOdds)
			admin.POST("/fight/settle", h.Settle)

			admin.GET("/users", h.ListUsers)
			admin.POST("/users", h.CreateUser)
			admin.POST("/users/:username/balance", h.AdjustBalance)

			admin.GET("/history", h.RecentRounds)
			admin.GET("/history/today", h.TodayRounds)
			admin.GET("/history/:number", h.RoundDetail)

			if profiler != nil {
				admin.GET("/debug/profile", gin.WrapH(profiler))
			}
		}
	}

	if h.manager != nil {
		r.GET("/ws", h.HandleWebSocket)
	}
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
