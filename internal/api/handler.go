package api

import (
	"net/http"
	"strconv"
	"time"

	"credit-ledger/internal/ledgererr"
	"credit-ledger/internal/service"
	"credit-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	grantService          *service.GrantService
	deductionService      *service.DeductionService
	reconciliationService *service.ReconciliationService
}

// NewHandler creates a new HTTP handler
func NewHandler(
	grantService *service.GrantService,
	deductionService *service.DeductionService,
	reconciliationService *service.ReconciliationService,
) *Handler {
	return &Handler{
		grantService:          grantService,
		deductionService:      deductionService,
		reconciliationService: reconciliationService,
	}
}

// SetupRoutes sets up HTTP routes. The router/auth collaborator in front of
// this service has already validated the caller's role.
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/admin/credits/purchase-and-grant", h.adminPurchaseAndGrant)
		v1.POST("/trainer/credits/purchase-and-grant", h.trainerPurchaseAndGrant)
		v1.GET("/admin/reconciliation/report", h.reconciliationReport)

		deductions := v1.Group("/sessions/deductions")
		{
			deductions.POST("/process", h.processDeductions)
			deductions.GET("/clients-needing-payment", h.clientsNeedingPayment)
			deductions.POST("/apply-payment", h.applyPayment)
			deductions.GET("/client-last-package/:clientId", h.clientLastPackage)
			deductions.POST("/apply-package-payment", h.applyPackagePayment)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// adminPurchaseAndGrant handles the admin instant grant
func (h *Handler) adminPurchaseAndGrant(c *gin.Context) {
	var req service.PurchaseAndGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadShape(c, err)
		return
	}
	req.AppliedBy = actorID(c)

	resp, err := h.grantService.PurchaseAndGrant(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// trainerPurchaseAndGrant is the trainer-scoped instant grant: the client
// must be assigned to the calling trainer.
func (h *Handler) trainerPurchaseAndGrant(c *gin.Context) {
	var req service.PurchaseAndGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadShape(c, err)
		return
	}
	if req.TrainerID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":   false,
			"message":   "trainerId is required",
			"errorCode": ledgererr.CodeInvalidRequest,
		})
		return
	}
	req.AppliedBy = req.TrainerID

	resp, err := h.grantService.PurchaseAndGrant(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// processDeductions triggers one deduction batch run
func (h *Handler) processDeductions(c *gin.Context) {
	result, err := h.deductionService.ProcessSessionDeductions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"processed": result.Processed,
		"deducted":  result.Deducted,
		"noCredits": result.NoCredits,
		"errors":    result.Errors,
	})
}

// clientsNeedingPayment returns the recovery worklist
func (h *Handler) clientsNeedingPayment(c *gin.Context) {
	clients, err := h.grantService.GetClientsNeedingPayment(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clients": clients})
}

type applyPaymentRequest struct {
	ClientID      int64  `json:"clientId" binding:"required,min=1"`
	SessionsToAdd int    `json:"sessionsToAdd" binding:"required,min=1"`
	PaymentNote   string `json:"paymentNote,omitempty"`
}

// applyPayment handles the ad hoc credit correction
func (h *Handler) applyPayment(c *gin.Context) {
	var req applyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadShape(c, err)
		return
	}

	adj, err := h.grantService.ApplyPaymentCredits(c.Request.Context(), req.ClientID, req.SessionsToAdd, req.PaymentNote)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, adj)
}

// clientLastPackage returns the client's most recent completed purchase
func (h *Handler) clientLastPackage(c *gin.Context) {
	clientID, err := strconv.ParseInt(c.Param("clientId"), 10, 64)
	if err != nil || clientID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":   false,
			"message":   "invalid client ID",
			"errorCode": ledgererr.CodeInvalidClientID,
		})
		return
	}

	pkg, svcErr := h.grantService.GetClientLastPackage(c.Request.Context(), clientID)
	if svcErr != nil {
		respondError(c, svcErr)
		return
	}
	if pkg == nil {
		c.JSON(http.StatusOK, gin.H{"lastPackage": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"lastPackage": pkg})
}

// applyPackagePayment handles the manual recovery grant
func (h *Handler) applyPackagePayment(c *gin.Context) {
	var req service.ApplyPackagePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadShape(c, err)
		return
	}
	req.AppliedBy = actorID(c)

	resp, err := h.grantService.ApplyPackagePayment(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionsAdded": resp.SessionsAdded,
		"packageName":   resp.PackageName,
		"orderId":       resp.OrderID,
		"orderNumber":   resp.OrderNumber,
		"newBalance":    resp.NewBalance,
		"replayed":      resp.Replayed,
	})
}

// reconciliationReport returns the drift report
func (h *Handler) reconciliationReport(c *gin.Context) {
	report, err := h.reconciliationService.GetReport(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary": gin.H{
			"ungrantedCarts":    report.UngrantedCarts,
			"grantedCarts":      report.GrantedCarts,
			"totalSessionsOwed": report.TotalSessionsOwed,
		},
		"ungrantedDetails": report.UngrantedDetails,
	})
}

// actorID extracts the acting admin/trainer user from the auth collaborator's
// forwarded header.
func actorID(c *gin.Context) int64 {
	id, _ := strconv.ParseInt(c.GetHeader("X-Actor-ID"), 10, 64)
	return id
}

// statusForCode maps the stable error taxonomy to HTTP statuses.
var statusForCode = map[string]int{
	ledgererr.CodeInvalidRequest:          http.StatusBadRequest,
	ledgererr.CodeInvalidClientID:         http.StatusBadRequest,
	ledgererr.CodeInvalidStorefrontItemID: http.StatusBadRequest,
	ledgererr.CodeMissingIdempotencyToken: http.StatusBadRequest,
	ledgererr.CodeMissingPaymentMethod:    http.StatusBadRequest,
	ledgererr.CodeInvalidClient:           http.StatusNotFound,
	ledgererr.CodeInvalidItem:             http.StatusNotFound,
	ledgererr.CodePossibleDuplicate:       http.StatusConflict,
	ledgererr.CodeDuplicateIdempotencyKey: http.StatusConflict,
	ledgererr.CodeCartAlreadyGranted:      http.StatusConflict,
	ledgererr.CodeCartNotCompleted:        http.StatusConflict,
	ledgererr.CodeChargeNotConfirmed:      http.StatusConflict,
}

// respondError converts a service error into the shared envelope. Unmapped
// failures become a generic 500 with no internal detail leaked.
func respondError(c *gin.Context, err error) {
	if se, ok := ledgererr.AsServiceError(err); ok {
		status, mapped := statusForCode[se.Code]
		if !mapped {
			status = http.StatusInternalServerError
		}
		body := gin.H{
			"success":   false,
			"message":   se.Message,
			"errorCode": se.Code,
		}
		if se.Data != nil {
			body["data"] = se.Data
		}
		c.JSON(status, body)
		return
	}

	util.GetLogger().Error("Unexpected error", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"success":   false,
		"message":   "internal error",
		"errorCode": ledgererr.CodeInternal,
	})
}

// respondBadShape rejects malformed request bodies before any engine logic.
func respondBadShape(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success":   false,
		"message":   "invalid request body: " + err.Error(),
		"errorCode": ledgererr.CodeInvalidRequest,
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
