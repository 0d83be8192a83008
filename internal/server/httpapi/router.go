// Package httpapi exposes the sync engine over HTTP with gin: the bulk sync
// endpoint, the CRUD collaborator routes, receipt URLs and /ping.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/logging"
	"github.com/dmitrijs2005/finkeeper/internal/server/models"
	"github.com/dmitrijs2005/finkeeper/internal/server/services"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// MaxBodyBytes caps request bodies; a bulk chunk is small.
const MaxBodyBytes = 4 << 20

type BulkSyncer interface {
	BulkSync(ctx context.Context, userID string, t models.RecordType, raws []json.RawMessage) (*services.BulkResult, error)
}

type RecordStore interface {
	List(ctx context.Context, userID string, t models.RecordType) ([]json.RawMessage, error)
	Get(ctx context.Context, userID string, t models.RecordType, id string) (json.RawMessage, error)
	Upsert(ctx context.Context, userID string, t models.RecordType, pathID string, raw json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, userID string, t models.RecordType, id string) error
}

type ReceiptURLs interface {
	UploadURL(ctx context.Context, userID, transactionID string) (key, url string, err error)
	DownloadURL(ctx context.Context, userID, transactionID string) (string, error)
}

// Handler holds the collaborators behind the routes.
type Handler struct {
	bulk      BulkSyncer
	records   RecordStore
	receipts  ReceiptURLs
	jwtSecret []byte
	logger    logging.Logger
}

func NewHandler(bulk BulkSyncer, records RecordStore, receipts ReceiptURLs, secretKey string, logger logging.Logger) *Handler {
	return &Handler{
		bulk:      bulk,
		records:   records,
		receipts:  receipts,
		jwtSecret: []byte(secretKey),
		logger:    logger.With("module", "httpapi"),
	}
}

// NewRouter wires the routes. allowedOrigins of ["*"] allows every origin.
func NewRouter(h *Handler, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger(), corsMiddleware(allowedOrigins), limitBody(MaxBodyBytes))

	r.GET("/ping", h.ping)

	authed := r.Group("/", h.authMiddleware())
	authed.POST("/sync/:type/bulk", h.bulkSync)

	authed.POST("/transactions/:id/receipt", h.receiptUpload)
	authed.GET("/transactions/:id/receipt", h.receiptDownload)

	authed.GET("/:type", h.list)
	authed.POST("/:type", h.create)
	authed.GET("/:type/:id", h.get)
	authed.PUT("/:type/:id", h.update)
	authed.DELETE("/:type/:id", h.delete)

	return r
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	cfg.AddAllowMethods(http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions)
	cfg.AddAllowHeaders("Origin", "Content-Type", "Authorization")
	cfg.AddExposeHeaders("Content-Length")
	cfg.MaxAge = 12 * time.Hour
	return cors.New(cfg)
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
