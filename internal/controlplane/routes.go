package controlplane

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type RouteConfig struct {
	Token     string
	RateLimit int64 // requests per second per client, 0 = unlimited
}

func SetupRoutes(svc Service, cfg RouteConfig) http.Handler {
	r := gin.New()
	h := NewHandler(svc)

	r.Use(Logger())
	r.Use(gin.Recovery())
	r.Use(Secure())
	r.Use(CORS())
	r.Use(Gzip())
	r.Use(RateLimit(cfg.RateLimit))

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	v1 := r.Group("/v1")
	v1.Use(TokenAuth(cfg.Token))
	{
		v1.GET("/status", h.Status)
		v1.GET("/items", h.Items)
		v1.GET("/items/:id/attribute", h.Attribute)
		v1.POST("/items/:id/install", h.Install)
		v1.PUT("/items/:id/status", h.SetStatus)

		v1.GET("/validate", h.LastReport)
		v1.POST("/validate", h.Validate)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	return r.Handler()
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
