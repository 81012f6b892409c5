// Package server exposes the engine over HTTP with gin.
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tablematch/tablematch/internal/service"
)

// NewRouter wires the member and operator routes. Authentication is the
// surrounding application's job; operator routes are expected to sit
// behind its gateway.
func NewRouter(match *service.MatchService, admin *service.AdminService) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	mh := &matchHandler{svc: match}
	ah := &adminHandler{svc: admin}

	v1 := r.Group("/v1")
	{
		v1.POST("/match/join", mh.Join)
		v1.POST("/groups/:id/leave", mh.Leave)
		v1.POST("/groups/:id/heartbeat", mh.Heartbeat)
		v1.GET("/groups/:id", mh.Get)
		v1.GET("/groups/:id/presence", mh.Presence)

		adm := v1.Group("/admin")
		{
			adm.POST("/reconcile", ah.Reconcile)
			adm.POST("/cleanup", ah.Cleanup)
			adm.POST("/groups/:id/confirm", ah.ForceConfirm)
			adm.POST("/groups/:id/cancel", ah.ForceCancel)
		}
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
