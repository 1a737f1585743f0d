package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/cargo_backend/config"
	"github.com/mmdatafocus/cargo_backend/models"
	"github.com/mmdatafocus/cargo_backend/utils"
)

// Dispatcher hands a committed request to the outbound notifier. It must not block.
type Dispatcher interface {
	Enqueue(ctx context.Context, request *models.Request) bool
}

func writeSyncError(c *gin.Context, funcName string, payload any, err error) {
	if errors.Is(err, ErrInvalidPayload) || errors.Is(err, ErrMissingCloseTimestamp) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	config.LogError(config.GetLogger(), "handlers.go", funcName, "sync failed", payload, err)
	// 5xx so the Broadcaster retries
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "sync failed"})
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
		return false
	}
	return true
}

func SyncRequestHandler(s *Synchronizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var p SyncRequestPayload
		if !bindJSON(c, &p) {
			return
		}
		result, err := s.SyncRequest(c.Request.Context(), &p)
		if err != nil {
			writeSyncError(c, "SyncRequestHandler", p.RequestId, err)
			return
		}
		c.JSON(http.StatusOK, SyncAck{Success: true, RequestId: result.RequestId})
	}
}

func SyncQuotationHandler(s *Synchronizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var p SyncQuotationPayload
		if !bindJSON(c, &p) {
			return
		}
		result, err := s.SyncQuotation(c.Request.Context(), &p)
		if err != nil {
			writeSyncError(c, "SyncQuotationHandler", p.QuotationId, err)
			return
		}
		c.JSON(http.StatusOK, SyncAck{Success: true, RequestId: result.RequestId, Message: result.Message})
	}
}

func SyncCloseHandler(s *Synchronizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var p SyncClosePayload
		if !bindJSON(c, &p) {
			return
		}
		result, err := s.SyncClose(c.Request.Context(), &p)
		if err != nil {
			writeSyncError(c, "SyncCloseHandler", p.RequestId, err)
			return
		}
		c.JSON(http.StatusOK, SyncAck{Success: true, Message: result.Message})
	}
}

func SyncBidStatusHandler(s *Synchronizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var p SyncBidStatusPayload
		if !bindJSON(c, &p) {
			return
		}
		result, err := s.SyncBidStatus(c.Request.Context(), &p)
		if err != nil {
			writeSyncError(c, "SyncBidStatusHandler", p.RequestId, err)
			return
		}
		c.JSON(http.StatusOK, SyncAck{Success: true, RequestId: result.RequestId, ForwarderId: result.ForwarderId, Message: result.Message})
	}
}

// SubmitRequestHandler persists the request and returns before the Broadcaster is told.
func SubmitRequestHandler(d Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}
		ctx := c.Request.Context()
		request, err := models.SubmitRequest(ctx, &input)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrMissingScope):
				c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			case errors.Is(err, models.ErrAllocationExhausted):
				config.LogError(config.GetLogger(), "handlers.go", "SubmitRequestHandler", "allocate request id", nil, err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not allocate a request id, try again"})
			case errors.Is(err, models.ErrInvalidRequest):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				config.LogError(config.GetLogger(), "handlers.go", "SubmitRequestHandler", "persist request", nil, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save request"})
			}
			return
		}
		if d != nil {
			d.Enqueue(ctx, request)
		}
		c.JSON(http.StatusCreated, request)
	}
}

func ListMyRequestsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		requests, err := models.GetMyRequests(c.Request.Context())
		if err != nil {
			if errors.Is(err, models.ErrMissingScope) {
				c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
				return
			}
			config.LogError(config.GetLogger(), "handlers.go", "ListMyRequestsHandler", "list requests", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load requests"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requests": requests})
	}
}

func GetRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		request, err := models.GetRequest(c.Request.Context(), c.Param("request_id"))
		if err != nil {
			if errors.Is(err, models.ErrRequestNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			config.LogError(config.GetLogger(), "handlers.go", "GetRequestHandler", "get request", c.Param("request_id"), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load request"})
			return
		}
		c.JSON(http.StatusOK, request)
	}
}

func LookupRequestsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := strings.TrimSpace(c.Query("email"))
		if email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
			return
		}
		requests, err := models.LookupRequestsByEmail(c.Request.Context(), email)
		if err != nil {
			config.LogError(config.GetLogger(), "handlers.go", "LookupRequestsHandler", "lookup by email", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load requests"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requests": requests})
	}
}

func ExportQuotationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		request, err := models.GetRequest(c.Request.Context(), c.Param("request_id"))
		if err != nil {
			if errors.Is(err, models.ErrRequestNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load request"})
			return
		}
		f, err := QuotationWorkbook(request)
		if err != nil {
			config.LogError(config.GetLogger(), "handlers.go", "ExportQuotationsHandler", "build workbook", request.RequestId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not build export"})
			return
		}
		defer f.Close()

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s-quotations.xlsx", request.RequestId))
		if err := f.Write(c.Writer); err != nil {
			config.LogError(config.GetLogger(), "handlers.go", "ExportQuotationsHandler", "write workbook", request.RequestId, err)
		}
	}
}

func ListAnomaliesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.AnomalyFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
			return
		}
		anomalies, err := models.ListAnomalies(c.Request.Context(), filter)
		if err != nil {
			config.LogError(config.GetLogger(), "handlers.go", "ListAnomaliesHandler", "list anomalies", filter, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load anomalies"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"anomalies": anomalies})
	}
}

// ReconcileHandler heals one request when request_id is given, otherwise sweeps all.
// Parked quotations whose request has arrived are applied first.
func ReconcileHandler(s *Synchronizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input ReconcileInput
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&input); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		ctx := c.Request.Context()
		requestId := strings.TrimSpace(input.RequestId)

		if requestId != "" {
			applied, err := s.ApplyParked(ctx, requestId)
			if err != nil {
				config.LogError(config.GetLogger(), "handlers.go", "ReconcileHandler", "apply parked", requestId, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
				return
			}
			count, changed, err := models.ReconcileQuotationCount(ctx, requestId)
			if err != nil {
				if errors.Is(err, models.ErrRequestNotFound) {
					c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
					return
				}
				config.LogError(config.GetLogger(), "handlers.go", "ReconcileHandler", "reconcile count", requestId, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"request_id": requestId, "quotation_count": count, "changed": changed, "parked_applied": applied})
			return
		}

		applied, err := s.ApplyAllParked(ctx)
		if err != nil {
			config.LogError(config.GetLogger(), "handlers.go", "ReconcileHandler", "apply all parked", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
			return
		}
		summary, err := models.ReconcileAll(ctx, 0)
		if err != nil {
			config.LogError(config.GetLogger(), "handlers.go", "ReconcileHandler", "reconcile all", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"summary": summary, "parked_applied": applied})
	}
}

func ReplayDispatchHandler(d Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input ReplayInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		ctx := c.Request.Context()
		request, err := models.GetRequest(utils.WithoutScopeGuard(ctx), input.RequestId)
		if err != nil {
			if errors.Is(err, models.ErrRequestNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load request"})
			return
		}
		if d == nil || !d.Enqueue(ctx, request) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dispatch queue unavailable"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"success": true, "request_id": request.RequestId})
	}
}

func ListDispatchRecordsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := models.ListDispatchRecords(c.Request.Context(), c.Param("request_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load dispatch records"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"dispatches": records})
	}
}
