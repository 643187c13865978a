package delivery

import (
	"testing"
	"time"

	"github.com/matheus3301/chatterbox/internal/remote"
	"github.com/stretchr/testify/assert"
)

func TestRenderHeadersAndGrouping(t *testing.T) {
	day1 := time.Date(2025, 6, 2, 23, 50, 0, 0, time.UTC)
	msgs := []remote.Message{
		{ID: "m1", ProfileID: alice, CreatedAt: day1},
		{ID: "m2", ProfileID: alice, CreatedAt: day1.Add(2 * time.Minute)},
		{ID: "m3", ProfileID: alice, CreatedAt: day1.Add(8 * time.Minute)},
		{ID: "m4", ProfileID: alice, CreatedAt: day1.Add(20 * time.Minute)},
		{ID: "m5", ProfileID: bob, CreatedAt: day1.Add(21 * time.Minute)},
		{ID: "m6", ProfileID: bob, CreatedAt: day1.Add(22 * time.Minute)},
	}
	rows := Render(msgs, alice, time.UTC)

	assert.Equal(t, "Monday, June 2", rows[0].DateHeader)
	assert.Empty(t, rows[1].DateHeader)
	assert.Equal(t, "Tuesday, June 3", rows[3].DateHeader, "new calendar day")
	assert.Empty(t, rows[4].DateHeader)

	assert.False(t, rows[0].Consecutive)
	assert.True(t, rows[1].Consecutive, "own message within five minutes")
	assert.False(t, rows[2].Consecutive, "gap of six minutes")
	assert.False(t, rows[3].Consecutive, "gap across midnight")
	assert.False(t, rows[5].Consecutive, "only own messages group")

	assert.True(t, rows[0].Own)
	assert.False(t, rows[4].Own)
	assert.Empty(t, rows[4].Status, "no receipts on incoming messages")
	assert.Equal(t, "23:50", rows[0].Time)
}

func TestRenderUsesLocation(t *testing.T) {
	tz := time.FixedZone("UTC-3", -3*60*60)
	rows := Render([]remote.Message{{ID: "m1", CreatedAt: time.Date(2025, 6, 3, 1, 0, 0, 0, time.UTC)}}, bob, tz)
	assert.Equal(t, "Monday, June 2", rows[0].DateHeader)
	assert.Equal(t, "22:00", rows[0].Time)
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		m    remote.Message
		want Status
	}{
		{remote.Message{ID: "temp-1", IsRead: true}, StatusPending},
		{remote.Message{ID: "m", IsReceived: true, IsDelivered: true, IsRead: true}, StatusRead},
		{remote.Message{ID: "m", IsReceived: true, IsDelivered: true}, StatusDelivered},
		{remote.Message{ID: "m", IsReceived: true}, StatusReceived},
		{remote.Message{ID: "m"}, StatusSent},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, StatusOf(c.m))
	}
}
