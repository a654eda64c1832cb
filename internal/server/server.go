// Package server exposes the CRUD controller over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/ldap-crud/internal/crud"
	"github.com/isometry/ldap-crud/internal/ldap"
)

func init() {
	// Document numbers must reach the codec unrounded.
	binding.EnableDecoderUseNumber = true
}

// Controller executes CRUD requests.
type Controller interface {
	Insert(ctx context.Context, req *crud.InsertRequest) *crud.Response
	Save(ctx context.Context, req *crud.SaveRequest) *crud.Response
	Find(ctx context.Context, req *crud.FindRequest) *crud.Response
	Delete(ctx context.Context, req *crud.DeleteRequest) *crud.Response
	Entities() []string
}

// Pinger checks directory connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
	Stats() ldap.PoolStats
}

// New returns a router serving /insert, /save, /find, /delete and /health.
// ctx carries the logging configuration.
func New(ctx context.Context, controller Controller, directory Pinger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(ctx))

	router.POST("/insert", handle(controller.Insert))
	router.POST("/save", handle(controller.Save))
	router.POST("/find", handle(controller.Find))
	router.POST("/delete", handle(controller.Delete))

	router.GET("/health", func(c *gin.Context) {
		stats := directory.Stats()
		body := gin.H{
			"entities": controller.Entities(),
			"pool": gin.H{
				"idle":    stats.Idle,
				"active":  stats.Active,
				"created": stats.Created,
				"errors":  stats.Errors,
			},
		}

		if err := directory.Ping(c.Request.Context()); err != nil {
			body["status"] = "unavailable"
			body["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["status"] = "ok"
		c.JSON(http.StatusOK, body)
	})

	return router
}

// handle decodes a request of type R and always answers with a Response.
// Only undecodable bodies are rejected with a non-200 status.
func handle[R any](fn func(context.Context, *R) *crud.Response) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := new(R)
		if err := c.ShouldBindJSON(req); err != nil {
			c.JSON(http.StatusBadRequest, crud.ErrorResponse(crud.CodeInvalidRequest, err.Error()))
			return
		}
		c.JSON(http.StatusOK, fn(c.Request.Context(), req))
	}
}

func requestLogger(ctx context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		tflog.SubsystemDebug(ctx, ldap.SubsystemCRUD, "HTTP request", map[string]any{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"client_ip":   c.ClientIP(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}
