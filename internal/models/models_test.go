package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourcePricing(t *testing.T) {
	tests := []struct {
		name     string
		column   decimal.NullDecimal
		wantFree bool
		wantRate string
	}{
		{"null column", decimal.NullDecimal{}, true, "0"},
		{"zero price", decimal.NewNullDecimal(decimal.Zero), true, "0"},
		{"negative price", decimal.NewNullDecimal(decimal.NewFromInt(-5)), true, "0"},
		{"hourly price", decimal.NewNullDecimal(decimal.RequireFromString("12.50")), false, "12.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Resource{PricePerHour: tt.column}
			p := r.Pricing()
			assert.Equal(t, tt.wantFree, p.IsFree())
			rate, charged := p.HourlyRate()
			assert.Equal(t, !tt.wantFree, charged)
			assert.Equal(t, tt.wantRate, rate.String())
		})
	}
}

func TestReservationStatusTransitions(t *testing.T) {
	allowed := map[ReservationStatus][]ReservationStatus{
		ReservationStatusPending:  {ReservationStatusApproved, ReservationStatusRejected, ReservationStatusCancelled},
		ReservationStatusApproved: {ReservationStatusCancelled},
	}
	all := []ReservationStatus{
		ReservationStatusPending, ReservationStatusApproved,
		ReservationStatusRejected, ReservationStatusCancelled,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestReservationOverlapsHalfOpen(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	r := &Reservation{StartAt: base, EndAt: base.Add(time.Hour)}

	assert.True(t, r.Overlaps(base.Add(30*time.Minute), base.Add(90*time.Minute)))
	assert.True(t, r.Overlaps(base.Add(-time.Hour), base.Add(2*time.Hour)))
	assert.False(t, r.Overlaps(base.Add(time.Hour), base.Add(2*time.Hour)), "touching end is free")
	assert.False(t, r.Overlaps(base.Add(-time.Hour), base), "touching start is free")
}

func TestDecodeEvent(t *testing.T) {
	rid := int64(7)
	original := &PaymentCreatedEvent{
		BaseEvent:     NewBaseEvent(EventTypePaymentCreated, 3),
		PaymentID:     11,
		ResidentID:    3,
		Origin:        PaymentOriginReservation,
		ReservationID: &rid,
		Amount:        decimal.RequireFromString("20.00"),
	}
	data, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)

	got, ok := decoded.(*PaymentCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, original.EventID, got.Meta().EventID)
	assert.Equal(t, int64(11), got.PaymentID)
	assert.True(t, original.Amount.Equal(got.Amount))
	assert.Equal(t, "payment-11", got.PartitionKey())
}

func TestDecodeEventUnknownType(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"event_id":"x","event_type":"ORDER_CREATED"}`))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`not json`))
	assert.Error(t, err)
}
