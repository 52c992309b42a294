package restapi

import (
	"net/http"
	"net/http/pprof"

	"wallet_session/internal/app/port"
	"wallet_session/internal/pkg/metrics"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions toggles the operational endpoints.
type RouterOptions struct {
	AllowedOrigins []string // empty allows any origin
	MetricsPath    string   // empty disables /metrics
	EnablePprof    bool
}

// SetupRouter настраивает и возвращает экземпляр Gin роутера.
func SetupRouter(sessionHandler *SessionHandler, catalogHandler *CatalogHandler, opts RouterOptions, logger port.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(metrics.GinMiddleware())

	corsConfig := cors.DefaultConfig()
	if len(opts.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = opts.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Группа для API v1
	v1 := router.Group("/api/v1")
	{
		session := v1.Group("/session")
		session.GET("", sessionHandler.GetSession)
		session.POST("/connect", sessionHandler.Connect)
		session.POST("/disconnect", sessionHandler.Disconnect)
		session.POST("/sign", sessionHandler.Sign)
		session.POST("/transactions", sessionHandler.SendTransaction)
		session.GET("/events", sessionHandler.Events)
		session.GET("/pairing", sessionHandler.GetPairing)
		session.GET("/pairing.png", sessionHandler.GetPairingQR)

		v1.GET("/networks", catalogHandler.GetNetworks)
		v1.GET("/transports", catalogHandler.GetTransports)
		v1.GET("/contracts", catalogHandler.GetContracts)
		v1.GET("/contracts/:name/records", catalogHandler.ListRecords)
		v1.GET("/contracts/:name/records/:id", catalogHandler.GetRecord)
	}

	if opts.MetricsPath != "" {
		router.GET(opts.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	if opts.EnablePprof {
		pprofRouter := router.Group("/debug/pprof")
		{
			pprofRouter.GET("/", gin.WrapF(pprof.Index))
			pprofRouter.GET("/cmdline", gin.WrapF(pprof.Cmdline))
			pprofRouter.GET("/profile", gin.WrapF(pprof.Profile))
			pprofRouter.POST("/symbol", gin.WrapF(pprof.Symbol))
			pprofRouter.GET("/symbol", gin.WrapF(pprof.Symbol))
			pprofRouter.GET("/trace", gin.WrapF(pprof.Trace))
			pprofRouter.GET("/goroutine", gin.WrapH(pprof.Handler("goroutine")))
			pprofRouter.GET("/heap", gin.WrapH(pprof.Handler("heap")))
		}
	}

	return router
}

func requestLogger(logger port.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"client_ip", c.ClientIP(),
		)
	}
}
