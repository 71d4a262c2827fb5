package controlplane

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

var corsConfig = cors.Config{
	AllowAllOrigins: true,
	AllowMethods:    []string{"GET", "POST", "PUT", "HEAD"},
	AllowHeaders: []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Authorization",
	},
	MaxAge: 12 * time.Hour,
}

func CORS() gin.HandlerFunc {
	return cors.New(corsConfig)
}

func Gzip() gin.HandlerFunc {
	return gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/healthz"}))
}

// Secure sets the browser hardening headers. The control plane listens on
// plain http on loopback, so there is no ssl redirect or hsts.
func Secure() gin.HandlerFunc {
	return secure.New(secure.Config{
		IsDevelopment:      false,
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		IENoOpen:           true,
		ReferrerPolicy:     "no-referrer",
	})
}

func Logger() gin.HandlerFunc {
	httpLogger := slog.Default().WithGroup("http")

	return slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	})
}

// RateLimit allows perSecond requests per client; zero disables it.
func RateLimit(perSecond int64) gin.HandlerFunc {
	if perSecond <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return mgin.NewMiddleware(limiter.New(memory.NewStore(), limiter.Rate{
		Period: time.Second,
		Limit:  perSecond,
	}))
}

// TokenAuth requires the token as a bearer header or ?token=. An empty token
// disables the check.
func TokenAuth(token string) gin.HandlerFunc {
	if token == "" {
		slog.Info("control plane auth disabled")
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if got == "" {
			got = c.Query("token")
		}

		if got != token {
			slog.Debug("invalid control plane token", "ip", c.ClientIP(), "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, ControlPlaneError{
				ErrorCode: "ERR_UNAUTHORIZED",
				Error:     "unauthorized",
			})
			return
		}
		c.Next()
	}
}
