package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/service"
	"booking-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type stubReservations struct {
	created  service.CreateReservationRequest
	managed  service.ManageRequest
	cancel   string
	filter   store.ReservationFilter
	replayed bool
	err      error
}

func (s *stubReservations) Create(_ context.Context, req service.CreateReservationRequest) (*service.CreateReservationResponse, error) {
	s.created = req
	if s.err != nil {
		return nil, s.err
	}
	return &service.CreateReservationResponse{
		Reservation: &models.Reservation{ID: 1, ResourceID: req.ResourceID, RequestedBy: req.RequesterID, Status: models.ReservationStatusPending},
		Replayed:    s.replayed,
	}, nil
}

func (s *stubReservations) Cancel(_ context.Context, id, _ int64, reason string) (*models.Reservation, error) {
	s.cancel = reason
	return &models.Reservation{ID: id, Status: models.ReservationStatusCancelled}, s.err
}

func (s *stubReservations) Manage(_ context.Context, req service.ManageRequest) (*models.Reservation, error) {
	s.managed = req
	if s.err != nil {
		return nil, s.err
	}
	return &models.Reservation{ID: req.ReservationID, Status: req.Status}, nil
}

func (s *stubReservations) Get(_ context.Context, id, _ int64) (*models.Reservation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Reservation{ID: id}, nil
}

func (s *stubReservations) ListMine(_ context.Context, requester int64, f store.ReservationFilter) ([]models.Reservation, error) {
	f.RequestedBy = requester
	s.filter = f
	return []models.Reservation{}, s.err
}

func (s *stubReservations) ListAll(_ context.Context, _ int64, f store.ReservationFilter) ([]models.Reservation, error) {
	s.filter = f
	return []models.Reservation{}, s.err
}

type stubPayments struct {
	receipt service.Receipt
	review  service.ReviewRequest
	err     error
}

func (s *stubPayments) CreateManual(_ context.Context, req service.CreateManualPaymentRequest) (*models.Payment, error) {
	return &models.Payment{ID: 3, ResidentID: req.ResidentID, Amount: req.Amount}, s.err
}

func (s *stubPayments) UploadReceipt(_ context.Context, id, resident int64, r service.Receipt) (*models.Payment, error) {
	s.receipt = r
	if s.err != nil {
		return nil, s.err
	}
	return &models.Payment{ID: id, ResidentID: resident, Status: models.PaymentStatusPendingReview}, nil
}

func (s *stubPayments) Review(_ context.Context, req service.ReviewRequest) (*models.Payment, error) {
	s.review = req
	return &models.Payment{ID: req.PaymentID, Status: req.Status}, s.err
}

func (s *stubPayments) Get(_ context.Context, id, _ int64) (*models.Payment, error) {
	return &models.Payment{ID: id}, s.err
}

func (s *stubPayments) ReceiptURL(context.Context, int64, int64) (string, error) {
	return "https://files.local/receipts/x.pdf", s.err
}

func (s *stubPayments) ListMine(context.Context, int64, store.PaymentFilter) ([]models.Payment, error) {
	return []models.Payment{}, s.err
}

func (s *stubPayments) ListAll(context.Context, int64, store.PaymentFilter) ([]models.Payment, error) {
	return []models.Payment{}, s.err
}

type stubInbox struct {
	unread bool
	ids    []int64
}

func (s *stubInbox) ListInbox(_ context.Context, _ int64, unreadOnly bool, _ int) ([]models.Notification, error) {
	s.unread = unreadOnly
	return []models.Notification{{ID: 1, Message: "hello"}}, nil
}

func (s *stubInbox) MarkRead(_ context.Context, _ int64, ids []int64) (int64, error) {
	s.ids = ids
	return int64(len(ids)), nil
}

type stubCatalog struct {
	all bool
}

func (s *stubCatalog) GetResource(_ context.Context, id int64) (*models.Resource, error) {
	if id != 1 {
		return nil, apperr.NotFound("RESOURCE_NOT_FOUND", "resource %d does not exist", id)
	}
	return &models.Resource{ID: 1, Name: "Court A", Kind: models.ResourceKindCourt, Active: true}, nil
}

func (s *stubCatalog) List(_ context.Context, includeInactive bool) ([]models.Resource, error) {
	s.all = includeInactive
	return []models.Resource{{ID: 1, Name: "Court A"}}, nil
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	router       *gin.Engine
	catalog      *stubCatalog
	reservations *stubReservations
	payments     *stubPayments
	inbox        *stubInbox
}

func newTestServer(deps Dependencies) *testServer {
	gin.SetMode(gin.TestMode)
	ts := &testServer{
		router:       gin.New(),
		catalog:      &stubCatalog{},
		reservations: &stubReservations{},
		payments:     &stubPayments{},
		inbox:        &stubInbox{},
	}
	deps.Catalog = ts.catalog
	deps.Reservations = ts.reservations
	deps.Payments = ts.payments
	deps.Inbox = ts.inbox
	NewHandler(deps).SetupRoutes(ts.router)
	return ts
}

func (ts *testServer) do(method, path, member string, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if member != "" {
		req.Header.Set(memberHeader, member)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	ts := newTestServer(Dependencies{})

	w := ts.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestReadiness(t *testing.T) {
	ts := newTestServer(Dependencies{Checks: map[string]Pinger{
		"postgres": pingFunc(func(context.Context) error { return nil }),
	}})
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/ready", "", "").Code)

	ts = newTestServer(Dependencies{Checks: map[string]Pinger{
		"redis": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}})
	w := ts.do(http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMemberHeaderRequired(t *testing.T) {
	ts := newTestServer(Dependencies{})

	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/api/v1/reservations/mine", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/api/v1/reservations/mine", "abc", "").Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/api/v1/reservations/mine", "-4", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/reservations/mine", "10", "").Code)
	assert.Equal(t, int64(10), ts.reservations.filter.RequestedBy)
}

func TestResources(t *testing.T) {
	ts := newTestServer(Dependencies{})

	w := ts.do(http.MethodGet, "/api/v1/resources?all=true", "10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, ts.catalog.all)
	assert.Contains(t, w.Body.String(), "Court A")

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/resources/1", "10", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/v1/resources/2", "10", "").Code)
}

func TestCreateReservation(t *testing.T) {
	ts := newTestServer(Dependencies{})

	w := ts.do(http.MethodPost, "/api/v1/reservations", "10",
		`{"resource_id": 5, "start": "2025-06-14T09:00:00Z", "title": "Match"}`,
		"Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	assert.Equal(t, int64(10), ts.reservations.created.RequesterID)
	assert.Equal(t, int64(5), ts.reservations.created.ResourceID)
	assert.Equal(t, "k-1", ts.reservations.created.IdempotencyKey)

	var resp service.CreateReservationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ReservationStatusPending, resp.Reservation.Status)
}

func TestCreateReservationReplay(t *testing.T) {
	ts := newTestServer(Dependencies{})
	ts.reservations.replayed = true

	w := ts.do(http.MethodPost, "/api/v1/reservations", "10", `{"resource_id": 5, "start": "2025-06-14T09:00:00Z"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
}

func TestCreateReservationBadBody(t *testing.T) {
	ts := newTestServer(Dependencies{})

	w := ts.do(http.MethodPost, "/api/v1/reservations", "10", `{"start": "not a time"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDomainErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{apperr.Validation("INVALID_INTERVAL", "start must be before end"), http.StatusBadRequest},
		{apperr.Conflict("RESERVATION_OVERLAP", "taken"), http.StatusConflict},
		{apperr.Forbidden("PERMISSION_DENIED", "no"), http.StatusForbidden},
		{apperr.InvalidState("ILLEGAL_TRANSITION", "no"), http.StatusConflict},
		{apperr.NotFound("RESERVATION_NOT_FOUND", "gone"), http.StatusNotFound},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			ts := newTestServer(Dependencies{})
			ts.reservations.err = tt.err

			w := ts.do(http.MethodGet, "/api/v1/reservations/1", "10", "")
			assert.Equal(t, tt.status, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			if e, ok := apperr.As(tt.err); ok {
				assert.Equal(t, e.Code, body["code"])
			} else {
				assert.NotContains(t, w.Body.String(), "connection reset")
			}
		})
	}
}

func TestManageReservation(t *testing.T) {
	ts := newTestServer(Dependencies{})

	w := ts.do(http.MethodPost, "/api/v1/reservations/7/status", "1", `{"status": "APPROVED"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(7), ts.reservations.managed.ReservationID)
	assert.Equal(t, int64(1), ts.reservations.managed.ActorID)
	assert.Equal(t, models.ReservationStatusApproved, ts.reservations.managed.Status)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/v1/reservations/x/status", "1", `{"status": "APPROVED"}`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/v1/reservations/7/status", "1", `{}`).Code)
}

func TestCancelReservation(t *testing.T) {
	ts := newTestServer(Dependencies{})

	assert.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/v1/reservations/7/cancel", "10", "").Code)
	assert.Empty(t, ts.reservations.cancel)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/v1/reservations/7/cancel", "10", `{"reason": "rain"}`).Code)
	assert.Equal(t, "rain", ts.reservations.cancel)
}

func TestListReservationsFilter(t *testing.T) {
	ts := newTestServer(Dependencies{})

	w := ts.do(http.MethodGet, "/api/v1/reservations?status=APPROVED&resource_id=4&from=2025-06-01T00:00:00Z&limit=10", "1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ReservationStatusApproved, ts.reservations.filter.Status)
	assert.Equal(t, int64(4), ts.reservations.filter.ResourceID)
	assert.Equal(t, 10, ts.reservations.filter.Limit)
	assert.False(t, ts.reservations.filter.From.IsZero())

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/v1/reservations?status=LOST", "1", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/v1/reservations?limit=-1", "1", "").Code)
}

func multipartBody(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadReceipt(t *testing.T) {
	ts := newTestServer(Dependencies{MaxReceiptBytes: 8})

	body, contentType := multipartBody(t, "proof.pdf", []byte("%PDF"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/3/receipt", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(memberHeader, "10")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "proof.pdf", ts.payments.receipt.Filename)
	assert.Equal(t, []byte("%PDF"), ts.payments.receipt.Data)

	// Oversized files are truncated one byte past the limit.
	body, contentType = multipartBody(t, "big.pdf", bytes.Repeat([]byte("x"), 64))
	req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/3/receipt", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(memberHeader, "10")
	ts.router.ServeHTTP(httptest.NewRecorder(), req)
	assert.Len(t, ts.payments.receipt.Data, 9)
}

func TestUploadReceiptMissingFile(t *testing.T) {
	ts := newTestServer(Dependencies{})

	w := ts.do(http.MethodPost, "/api/v1/payments/3/receipt", "10", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReviewPayment(t *testing.T) {
	ts := newTestServer(Dependencies{})

	w := ts.do(http.MethodPost, "/api/v1/payments/3/review", "2", `{"status": "PAID", "comment": "ok", "expected_version": 2}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(3), ts.payments.review.PaymentID)
	assert.Equal(t, int64(2), ts.payments.review.ActorID)
	assert.Equal(t, 2, ts.payments.review.ExpectedVersion)

	ts.payments.err = apperr.Conflict("STALE_PAYMENT", "changed")
	w = ts.do(http.MethodPost, "/api/v1/payments/3/review", "2", `{"status": "PAID", "expected_version": 2}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReviewPaymentRequiresVersion(t *testing.T) {
	ts := newTestServer(Dependencies{})

	for _, body := range []string{`{"status": "PAID"}`, `{"status": "PAID", "expected_version": 0}`} {
		w := ts.do(http.MethodPost, "/api/v1/payments/3/review", "2", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Zero(t, ts.payments.review.PaymentID)
}

func TestCreatePayment(t *testing.T) {
	ts := newTestServer(Dependencies{})

	w := ts.do(http.MethodPost, "/api/v1/payments", "2", `{"resident_id": 10, "fee_id": 4, "amount": "25.00"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"resident_id":10`)
}

func TestNotifications(t *testing.T) {
	ts := newTestServer(Dependencies{})

	w := ts.do(http.MethodGet, "/api/v1/notifications?unread=true", "10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, ts.inbox.unread)
	assert.Contains(t, w.Body.String(), "hello")

	w = ts.do(http.MethodPost, "/api/v1/notifications/read", "10", `{"ids": [1, 2]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{1, 2}, ts.inbox.ids)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(Dependencies{RateLimit: rate.Limit(0.001), RateBurst: 2})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/payments/mine", "10", "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, ts.do(http.MethodGet, "/api/v1/payments/mine", "10", "").Code)

	// Buckets are per member.
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/payments/mine", "11", "").Code)
}
