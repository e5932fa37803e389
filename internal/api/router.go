package api

import (
	"context"
	"net/http"
	"time"

	"drivingschool/server/internal/logger"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps carries everything the HTTP surface needs
type RouterDeps struct {
	Invoices *InvoiceController
	Health   Pinger
	// WebSocket serves the live invoice event feed; nil disables /ws
	WebSocket http.HandlerFunc
}

// NewRouter builds the gin engine with all invoice routes
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// Health check goes before CORS so liveness checks never see preflight handling
	r.GET("/api/v1/health", healthHandler(deps.Health))

	r.Use(requestLogger())
	r.Use(cors())

	apiGroup := r.Group("/api/v1")

	ic := deps.Invoices
	invoices := apiGroup.Group("/invoices")
	{
		invoices.POST("", ic.CreateInvoice)
		invoices.GET("", ic.ListInvoices)
		invoices.GET("/next-number", ic.NextNumber)
		invoices.GET("/export", ic.ExportInvoices)
		invoices.GET("/:id", ic.GetInvoice)
		invoices.PUT("/:id", ic.UpdateDraft)
		invoices.DELETE("/:id", ic.DeleteInvoice)
		invoices.POST("/:id/send", ic.SendInvoice)
		invoices.POST("/:id/mark-sent", ic.MarkSent)
		invoices.POST("/:id/payments", ic.RecordPayment)
		invoices.POST("/:id/cancel", ic.CancelInvoice)
		invoices.POST("/:id/refund", ic.RefundInvoice)
		invoices.GET("/:id/history", ic.GetHistory)
		invoices.GET("/:id/document", ic.GetDocument)
	}
	apiGroup.GET("/participants/:id/invoice-summary", ic.ParticipantSummary)

	if deps.WebSocket != nil {
		apiGroup.GET("/ws", gin.WrapF(deps.WebSocket))
	}
	return r
}

// GET /api/v1/health
func healthHandler(p Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{
			"status":  "ok",
			"service": "invoice-service",
		}
		if p != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body["database"] = "unreachable"
			}
		}
		c.JSON(status, body)
	}
}

func requestLogger() gin.HandlerFunc {
	log := logger.WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
