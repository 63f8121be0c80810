package api

import (
	"io"
	"net/http"
	"strconv"

	"booking-service/internal/models"
	"booking-service/internal/service"
	"booking-service/internal/store"

	"github.com/gin-gonic/gin"
)

// createPayment records a fee payment entered by staff
func (h *Handler) createPayment(c *gin.Context) {
	var req service.CreateManualPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	req.ActorID = memberID(c)

	p, err := h.payments.CreateManual(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) getPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	p, err := h.payments.Get(c.Request.Context(), id, memberID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) listMyPayments(c *gin.Context) {
	f, ok := paymentFilter(c)
	if !ok {
		return
	}
	list, err := h.payments.ListMine(c.Request.Context(), memberID(c), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": list})
}

func (h *Handler) listPayments(c *gin.Context) {
	f, ok := paymentFilter(c)
	if !ok {
		return
	}
	list, err := h.payments.ListAll(c.Request.Context(), memberID(c), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": list})
}

// uploadReceipt accepts a multipart "file" field
func (h *Handler) uploadReceipt(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "Missing receipt file", err)
		return
	}
	f, err := header.Open()
	if err != nil {
		badRequest(c, "Unreadable receipt file", err)
		return
	}
	defer f.Close()

	// One byte past the limit is enough for the service to reject the file.
	var reader io.Reader = f
	if h.maxReceiptBytes > 0 {
		reader = io.LimitReader(f, h.maxReceiptBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		badRequest(c, "Unreadable receipt file", err)
		return
	}

	p, err := h.payments.UploadReceipt(c.Request.Context(), id, memberID(c), service.Receipt{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) receiptURL(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	url, err := h.payments.ReceiptURL(c.Request.Context(), id, memberID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// reviewPayment sets a payment status on behalf of a reviewer
func (h *Handler) reviewPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	req.PaymentID = id
	req.ActorID = memberID(c)

	p, err := h.payments.Review(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) listNotifications(c *gin.Context) {
	limit, _, ok := page(c)
	if !ok {
		return
	}
	unread, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))

	list, err := h.inbox.ListInbox(c.Request.Context(), memberID(c), unread, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h *Handler) markNotificationsRead(c *gin.Context) {
	var body struct {
		IDs []int64 `json:"ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	n, err := h.inbox.MarkRead(c.Request.Context(), memberID(c), body.IDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func paymentFilter(c *gin.Context) (store.PaymentFilter, bool) {
	var f store.PaymentFilter

	if v := c.Query("reservation_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			badRequest(c, "Invalid reservation_id", err)
			return f, false
		}
		f.ReservationID = id
	}
	if v := c.Query("status"); v != "" {
		f.Status = models.PaymentStatus(v)
		if !f.Status.Valid() {
			badRequest(c, "Invalid status", nil)
			return f, false
		}
	}
	if v := c.Query("origin"); v != "" {
		f.Origin = models.PaymentOrigin(v)
		if f.Origin != models.PaymentOriginFee && f.Origin != models.PaymentOriginReservation {
			badRequest(c, "Invalid origin", nil)
			return f, false
		}
	}

	var valid bool
	f.Limit, f.Offset, valid = page(c)
	return f, valid
}
