package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/finkeeper/internal/api"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/server/lock"
	"github.com/dmitrijs2005/finkeeper/internal/server/models"
	"github.com/dmitrijs2005/finkeeper/internal/server/services"
	"github.com/gin-gonic/gin"
)

func (h *Handler) ping(c *gin.Context) {
	c.JSON(http.StatusOK, api.PingResponse{Status: "OK"})
}

// recordType resolves the :type path segment or writes a 404.
func recordType(c *gin.Context) (models.RecordType, bool) {
	t, err := models.ParseRecordType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: err.Error()})
		return "", false
	}
	return t, true
}

func (h *Handler) bulkSync(c *gin.Context) {
	t, ok := recordType(c)
	if !ok {
		return
	}

	var req api.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	res, err := h.bulk.BulkSync(c.Request.Context(), userID(c), t, req.Records)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res.Response())
}

func (h *Handler) list(c *gin.Context) {
	t, ok := recordType(c)
	if !ok {
		return
	}

	recs, err := h.records.List(c.Request.Context(), userID(c), t)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.ListResponse{Records: recs})
}

func (h *Handler) get(c *gin.Context) {
	t, ok := recordType(c)
	if !ok {
		return
	}

	rec, err := h.records.Get(c.Request.Context(), userID(c), t, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", rec)
}

func (h *Handler) create(c *gin.Context) {
	h.upsert(c, "", http.StatusCreated)
}

func (h *Handler) update(c *gin.Context) {
	h.upsert(c, c.Param("id"), http.StatusOK)
}

func (h *Handler) upsert(c *gin.Context, pathID string, okStatus int) {
	t, ok := recordType(c)
	if !ok {
		return
	}

	var raw json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	rec, err := h.records.Upsert(c.Request.Context(), userID(c), t, pathID, raw)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(okStatus, "application/json; charset=utf-8", rec)
}

func (h *Handler) delete(c *gin.Context) {
	t, ok := recordType(c)
	if !ok {
		return
	}

	if err := h.records.Delete(c.Request.Context(), userID(c), t, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) receiptUpload(c *gin.Context) {
	key, url, err := h.receipts.UploadURL(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.ReceiptResponse{URL: url, Key: key})
}

func (h *Handler) receiptDownload(c *gin.Context) {
	url, err := h.receipts.DownloadURL(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.ReceiptResponse{URL: url})
}

// writeError maps service errors to status codes. Unknown errors are logged
// and reported as 500 without details.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		msg = common.ErrorInternal.Error()
	}
	c.JSON(status, api.ErrorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrUnknownRecordType), errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, api.ErrMalformedRecord), errors.Is(err, common.ErrValidation), errors.Is(err, services.ErrIDMismatch):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrForeignRecord):
		return http.StatusConflict
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, lock.ErrNotObtained), errors.Is(err, services.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
