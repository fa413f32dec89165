package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	sessionHandler *SessionHandler,
	datasetHandler *DatasetHandler,
	statsHandler *StatsHandler,
) *Router {
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Session
	r.POST("/session/signin", sessionHandler.SignIn)
	r.POST("/session/offline", sessionHandler.GoOffline)
	r.POST("/session/signout", sessionHandler.SignOut)
	r.GET("/session", sessionHandler.Current)

	// Dataset
	r.GET("/dataset", datasetHandler.Get)
	r.POST("/days/:date/toggle", datasetHandler.Toggle)
	r.POST("/habits", datasetHandler.AddHabit)
	r.DELETE("/habits/:id", datasetHandler.RemoveHabit)
	r.POST("/reset", datasetHandler.Reset)
	r.GET("/events", datasetHandler.Events)

	// Stats
	r.GET("/stats/summary", statsHandler.Summary)
	r.GET("/stats/streak", statsHandler.Streak)
	r.GET("/stats/heatmap", statsHandler.Heatmap)
	r.GET("/stats/incomplete", statsHandler.Incomplete)

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
