package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/service"
	"booking-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// ReservationAPI is implemented by *service.ReservationService.
type ReservationAPI interface {
	Create(ctx context.Context, req service.CreateReservationRequest) (*service.CreateReservationResponse, error)
	Cancel(ctx context.Context, reservationID, requesterID int64, reason string) (*models.Reservation, error)
	Manage(ctx context.Context, req service.ManageRequest) (*models.Reservation, error)
	Get(ctx context.Context, id, principal int64) (*models.Reservation, error)
	ListMine(ctx context.Context, requesterID int64, f store.ReservationFilter) ([]models.Reservation, error)
	ListAll(ctx context.Context, actorID int64, f store.ReservationFilter) ([]models.Reservation, error)
}

// PaymentAPI is implemented by *service.PaymentService.
type PaymentAPI interface {
	CreateManual(ctx context.Context, req service.CreateManualPaymentRequest) (*models.Payment, error)
	UploadReceipt(ctx context.Context, paymentID, residentID int64, receipt service.Receipt) (*models.Payment, error)
	Review(ctx context.Context, req service.ReviewRequest) (*models.Payment, error)
	Get(ctx context.Context, id, principal int64) (*models.Payment, error)
	ReceiptURL(ctx context.Context, id, principal int64) (string, error)
	ListMine(ctx context.Context, residentID int64, f store.PaymentFilter) ([]models.Payment, error)
	ListAll(ctx context.Context, actorID int64, f store.PaymentFilter) ([]models.Payment, error)
}

// InboxAPI is implemented by *service.NotificationFanout.
type InboxAPI interface {
	ListInbox(ctx context.Context, recipientID int64, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, recipientID int64, ids []int64) (int64, error)
}

// CatalogAPI is implemented by *service.Catalog.
type CatalogAPI interface {
	GetResource(ctx context.Context, id int64) (*models.Resource, error)
	List(ctx context.Context, includeInactive bool) ([]models.Resource, error)
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies wires the handler.
type Dependencies struct {
	Catalog         CatalogAPI
	Reservations    ReservationAPI
	Payments        PaymentAPI
	Inbox           InboxAPI
	Checks          map[string]Pinger
	RateLimit       rate.Limit
	RateBurst       int
	MaxReceiptBytes int64
}

// Handler contains HTTP handlers
type Handler struct {
	catalog         CatalogAPI
	reservations    ReservationAPI
	payments        PaymentAPI
	inbox           InboxAPI
	checks          map[string]Pinger
	rateLimit       rate.Limit
	rateBurst       int
	maxReceiptBytes int64
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Dependencies) *Handler {
	if deps.RateLimit <= 0 {
		deps.RateLimit = rate.Inf
	}
	if deps.RateBurst <= 0 {
		deps.RateBurst = 1
	}
	return &Handler{
		catalog:         deps.Catalog,
		reservations:    deps.Reservations,
		payments:        deps.Payments,
		inbox:           deps.Inbox,
		checks:          deps.Checks,
		rateLimit:       deps.RateLimit,
		rateBurst:       deps.RateBurst,
		maxReceiptBytes: deps.MaxReceiptBytes,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", rateLimiter(h.rateLimit, h.rateBurst), requireMember())
	{
		v1.GET("/resources", h.listResources)
		v1.GET("/resources/:id", h.getResource)

		v1.POST("/reservations", h.createReservation)
		v1.GET("/reservations", h.listReservations)
		v1.GET("/reservations/mine", h.listMyReservations)
		v1.GET("/reservations/:id", h.getReservation)
		v1.POST("/reservations/:id/cancel", h.cancelReservation)
		v1.POST("/reservations/:id/status", h.manageReservation)

		v1.POST("/payments", h.createPayment)
		v1.GET("/payments", h.listPayments)
		v1.GET("/payments/mine", h.listMyPayments)
		v1.GET("/payments/:id", h.getPayment)
		v1.POST("/payments/:id/receipt", h.uploadReceipt)
		v1.GET("/payments/:id/receipt", h.receiptURL)
		v1.POST("/payments/:id/review", h.reviewPayment)

		v1.GET("/notifications", h.listNotifications)
		v1.POST("/notifications/read", h.markNotificationsRead)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every backing service
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) listResources(c *gin.Context) {
	all, _ := strconv.ParseBool(c.DefaultQuery("all", "false"))
	list, err := h.catalog.List(c.Request.Context(), all)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resources": list})
}

func (h *Handler) getResource(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := h.catalog.GetResource(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// createReservation handles reservation creation
func (h *Handler) createReservation(c *gin.Context) {
	var req service.CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	req.RequesterID = memberID(c)
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	resp, err := h.reservations.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	if resp.Replayed {
		c.Header("Idempotent-Replayed", "true")
		c.JSON(http.StatusOK, resp)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// getReservation handles get reservation by ID
func (h *Handler) getReservation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	r, err := h.reservations.Get(c.Request.Context(), id, memberID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) listMyReservations(c *gin.Context) {
	f, ok := reservationFilter(c)
	if !ok {
		return
	}
	list, err := h.reservations.ListMine(c.Request.Context(), memberID(c), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservations": list})
}

func (h *Handler) listReservations(c *gin.Context) {
	f, ok := reservationFilter(c)
	if !ok {
		return
	}
	list, err := h.reservations.ListAll(c.Request.Context(), memberID(c), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservations": list})
}

// cancelReservation lets the requester withdraw a pending reservation
func (h *Handler) cancelReservation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}
	}

	r, err := h.reservations.Cancel(c.Request.Context(), id, memberID(c), body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// manageReservation applies a staff decision
func (h *Handler) manageReservation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.ManageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	req.ReservationID = id
	req.ActorID = memberID(c)

	r, err := h.reservations.Manage(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid ID", nil)
		return 0, false
	}
	return id, true
}

func reservationFilter(c *gin.Context) (store.ReservationFilter, bool) {
	var f store.ReservationFilter
	var err error

	if v := c.Query("resource_id"); v != "" {
		if f.ResourceID, err = strconv.ParseInt(v, 10, 64); err != nil {
			badRequest(c, "Invalid resource_id", err)
			return f, false
		}
	}
	if v := c.Query("status"); v != "" {
		f.Status = models.ReservationStatus(v)
		if !f.Status.Valid() {
			badRequest(c, "Invalid status", nil)
			return f, false
		}
	}
	if v := c.Query("from"); v != "" {
		if f.From, err = time.Parse(time.RFC3339, v); err != nil {
			badRequest(c, "Invalid from", err)
			return f, false
		}
	}
	if v := c.Query("to"); v != "" {
		if f.To, err = time.Parse(time.RFC3339, v); err != nil {
			badRequest(c, "Invalid to", err)
			return f, false
		}
	}
	var valid bool
	f.Limit, f.Offset, valid = page(c)
	return f, valid
}

func page(c *gin.Context) (limit, offset int, valid bool) {
	var err error
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			badRequest(c, "Invalid limit", err)
			return 0, 0, false
		}
	}
	if v := c.Query("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			badRequest(c, "Invalid offset", err)
			return 0, 0, false
		}
	}
	return limit, offset, true
}
