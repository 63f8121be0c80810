package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"booking-service/internal/access"
	"booking-service/internal/filestore"
	"booking-service/internal/models"
	"booking-service/internal/store"

	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for *store.Store. One mutex makes every
// operation atomic, matching the transactional guarantees of the real store.
type memStore struct {
	mu            sync.Mutex
	nextID        int64
	reservations  map[int64]models.Reservation
	payments      map[int64]models.Payment
	notifications []models.Notification
	processed     map[string]bool
	failBatch     error
}

func newMemStore() *memStore {
	return &memStore{
		reservations: map[int64]models.Reservation{},
		payments:     map[int64]models.Payment{},
		processed:    map[string]bool{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) CreateReservation(_ context.Context, r *models.Reservation, paymentFor func(*models.Reservation) *models.Payment) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.reservations {
		if existing.ResourceID == r.ResourceID && existing.Status.Active() && existing.Overlaps(r.StartAt, r.EndAt) {
			return nil, store.ErrOverlap
		}
	}
	for _, p := range m.payments {
		if p.ResidentID == r.RequestedBy && p.Origin == models.PaymentOriginReservation && p.Status == models.PaymentStatusPending {
			return nil, store.ErrOutstandingDebt
		}
	}

	now := time.Now()
	r.ID = m.id()
	r.CreatedAt, r.UpdatedAt = now, now

	var payment *models.Payment
	if paymentFor != nil {
		payment = paymentFor(r)
	}
	if payment != nil {
		payment.ID = m.id()
		payment.Version = 1
		payment.CreatedAt, payment.UpdatedAt = now, now
		m.payments[payment.ID] = *payment
	}
	m.reservations[r.ID] = *r
	return payment, nil
}

func (m *memStore) UpdateReservation(_ context.Context, id int64, mutate func(*models.Reservation) error) (*models.Reservation, []models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	previous := r.Status
	if err := mutate(&r); err != nil {
		return nil, nil, err
	}
	r.UpdatedAt = time.Now()
	m.reservations[id] = r

	var cancelled []models.Payment
	if r.Status == models.ReservationStatusCancelled && previous != models.ReservationStatusCancelled {
		for pid, p := range m.payments {
			if p.ReservationID != nil && *p.ReservationID == id && p.Status == models.PaymentStatusPending {
				p.Status = models.PaymentStatusCancelled
				p.Version++
				m.payments[pid] = p
				cancelled = append(cancelled, p)
			}
		}
	}
	return &r, cancelled, nil
}

func (m *memStore) GetReservation(_ context.Context, id int64) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (m *memStore) ListReservations(_ context.Context, f store.ReservationFilter) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Reservation{}
	for _, r := range m.reservations {
		if f.RequestedBy != 0 && r.RequestedBy != f.RequestedBy {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) CreatePayment(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payments {
		if p.Origin == models.PaymentOriginFee && existing.Origin == models.PaymentOriginFee &&
			existing.ResidentID == p.ResidentID && *existing.FeeID == *p.FeeID {
			return fmt.Errorf("failed to insert payment: %w", store.ErrDuplicateFeePayment)
		}
	}
	p.ID = m.id()
	p.Version = 1
	m.payments[p.ID] = *p
	return nil
}

func (m *memStore) UpdatePayment(_ context.Context, id int64, mutate func(*models.Payment) error) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := mutate(&p); err != nil {
		return nil, err
	}
	p.Version++
	m.payments[id] = p
	return &p, nil
}

func (m *memStore) GetPayment(_ context.Context, id int64) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) ListPayments(_ context.Context, f store.PaymentFilter) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Payment{}
	for _, p := range m.payments {
		if f.ResidentID != 0 && p.ResidentID != f.ResidentID {
			continue
		}
		if f.ReservationID != 0 && (p.ReservationID == nil || *p.ReservationID != f.ReservationID) {
			continue
		}
		if f.Origin != "" && p.Origin != f.Origin {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) InsertNotificationBatch(_ context.Context, eventID, _ string, batch []models.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failBatch != nil {
		return false, m.failBatch
	}
	if m.processed[eventID] {
		return false, nil
	}
	m.processed[eventID] = true
	for _, n := range batch {
		n.ID = m.id()
		m.notifications = append(m.notifications, n)
	}
	return true, nil
}

func (m *memStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[eventID], nil
}

func (m *memStore) ListNotifications(_ context.Context, recipientID int64, unreadOnly bool, _ int) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Notification{}
	for _, n := range m.notifications {
		if n.RecipientID == recipientID && (!unreadOnly || !n.IsRead) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memStore) MarkNotificationsRead(_ context.Context, recipientID int64, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var n int64
	for i := range m.notifications {
		if m.notifications[i].RecipientID == recipientID && want[m.notifications[i].ID] && !m.notifications[i].IsRead {
			m.notifications[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *memStore) payment(id int64) models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payments[id]
}

func (m *memStore) inbox(recipientID int64) []models.Notification {
	list, _ := m.ListNotifications(context.Background(), recipientID, false, 0)
	return list
}

// memDirectory backs a real access.Resolver.
type memDirectory struct {
	members map[int64]*models.MemberAccess
}

func (d *memDirectory) add(id int64, active bool, roles ...access.Role) {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	d.members[id] = &models.MemberAccess{MemberID: id, Active: active, Roles: names}
}

func (d *memDirectory) GetMemberAccess(_ context.Context, id int64) (*models.MemberAccess, error) {
	m, ok := d.members[id]
	if !ok {
		return nil, nil
	}
	return m, nil
}

func (d *memDirectory) ListActiveMemberIDs(context.Context) ([]int64, error) {
	var ids []int64
	for id, m := range d.members {
		if m.Active {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (d *memDirectory) ListActiveMemberIDsWithRoles(_ context.Context, roles []string) ([]int64, error) {
	want := map[string]bool{}
	for _, r := range roles {
		want[r] = true
	}
	var ids []int64
	for id, m := range d.members {
		if !m.Active {
			continue
		}
		for _, r := range m.Roles {
			if want[r] {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Meta().EventType)
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type memFiles struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	fail    error
}

func (f *memFiles) Store(_ context.Context, data []byte, meta filestore.Meta) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	key := filestore.ObjectKey(meta.Prefix, meta.Filename, time.Now())
	f.objects[key] = data
	return key, nil
}

func (f *memFiles) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *memFiles) DownloadURL(_ context.Context, key string) (string, error) {
	return "https://files.local/" + key, nil
}

type memIdempotency struct {
	mu     sync.Mutex
	values map[string]string
	locks  map[string]string
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{values: map[string]string{}, locks: map[string]string{}}
}

func (m *memIdempotency) GetIdempotencyValue(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memIdempotency) SetIdempotencyKey(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case int64:
		m.values[key] = strconv.FormatInt(v, 10)
	default:
		m.values[key] = fmt.Sprint(v)
	}
	return nil
}

func (m *memIdempotency) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[key]; held {
		return "", false, nil
	}
	m.locks[key] = "token-" + key
	return m.locks[key], true, nil
}

func (m *memIdempotency) ReleaseLock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] != token {
		return errors.New("lock not held")
	}
	delete(m.locks, key)
	return nil
}

type memResources map[int64]*models.Resource

func (m memResources) ListResources(_ context.Context, activeOnly bool) ([]models.Resource, error) {
	out := []models.Resource{}
	for _, r := range m {
		if activeOnly && !r.Active {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memResources) GetResource(_ context.Context, id int64) (*models.Resource, error) {
	r, ok := m[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

// Member ids used across the service tests.
const (
	resident      int64 = 10
	otherResident int64 = 11
	president     int64 = 1
	treasurer     int64 = 2
	secretary     int64 = 3
	delegate      int64 = 4
	admin         int64 = 5
	formerMember  int64 = 20
)

// Resource ids used across the service tests.
const (
	freeCourt   int64 = 100
	paidCourt   int64 = 101
	hall        int64 = 102
	closedCourt int64 = 103
)

type fixture struct {
	store        *memStore
	dir          *memDirectory
	resolver     *access.Resolver
	resources    memResources
	catalog      *Catalog
	publisher    *recordingPublisher
	files        *memFiles
	idem         *memIdempotency
	payments     *PaymentService
	reservations *ReservationService
	fanout       *NotificationFanout
}

func newFixture() *fixture {
	f := &fixture{
		store:     newMemStore(),
		dir:       &memDirectory{members: map[int64]*models.MemberAccess{}},
		publisher: &recordingPublisher{},
		files:     &memFiles{objects: map[string][]byte{}},
		idem:      newMemIdempotency(),
	}
	f.dir.add(resident, true)
	f.dir.add(otherResident, true)
	f.dir.add(president, true, access.RolePresident)
	f.dir.add(treasurer, true, access.RoleTreasurer)
	f.dir.add(secretary, true, access.RoleSecretary)
	f.dir.add(delegate, true, access.RoleDelegate)
	f.dir.add(admin, true, access.RoleAdmin)
	f.dir.add(formerMember, false, access.RoleTreasurer)

	f.resolver = access.NewResolver(f.dir, time.Minute)

	f.resources = memResources{
		freeCourt:   {ID: freeCourt, Name: "Court A", Kind: models.ResourceKindCourt, Active: true},
		paidCourt:   {ID: paidCourt, Name: "Court B", Kind: models.ResourceKindCourt, Active: true, PricePerHour: decimal.NewNullDecimal(decimal.RequireFromString("15.00"))},
		hall:        {ID: hall, Name: "Main Hall", Kind: models.ResourceKindHall, Active: true, PricePerHour: decimal.NewNullDecimal(decimal.RequireFromString("80.00"))},
		closedCourt: {ID: closedCourt, Name: "Court C", Kind: models.ResourceKindCourt, Active: false},
	}

	f.catalog = NewCatalog(f.resources, time.Minute)
	f.payments = NewPaymentService(f.store, f.resolver, f.files, f.publisher, 5*1024*1024)
	f.reservations = NewReservationService(f.store, f.catalog, f.payments,
		f.resolver, f.publisher, f.idem, ReservationConfig{DefaultDuration: time.Hour, IdempotencyTTL: time.Hour})
	f.fanout = NewNotificationFanout(f.store, f.resolver)
	return f
}

var slot = time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC)

func (f *fixture) book(resourceID, requester int64, start time.Time) (*CreateReservationResponse, error) {
	return f.reservations.Create(context.Background(), CreateReservationRequest{
		ResourceID:  resourceID,
		RequesterID: requester,
		Start:       start,
		End:         start.Add(time.Hour),
	})
}
