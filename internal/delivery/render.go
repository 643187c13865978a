package delivery

import (
	"time"

	"github.com/matheus3301/chatterbox/internal/remote"
)

// Status is the receipt shown next to an own message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusReceived  Status = "received"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// ConsecutiveGap is the longest pause after which own messages still
// group under one header.
const ConsecutiveGap = 5 * time.Minute

const (
	dateLayout = "Monday, January 2"
	timeLayout = "15:04"
)

// Row is one message prepared for display.
type Row struct {
	Message     remote.Message `json:"message"`
	Own         bool           `json:"own"`
	Status      Status         `json:"status,omitempty"`
	DateHeader  string         `json:"date_header,omitempty"`
	Time        string         `json:"time"`
	Consecutive bool           `json:"consecutive"`
}

// StatusOf returns the receipt of a message.
func StatusOf(m remote.Message) Status {
	switch {
	case m.IsPlaceholder():
		return StatusPending
	case m.IsRead:
		return StatusRead
	case m.IsDelivered:
		return StatusDelivered
	case m.IsReceived:
		return StatusReceived
	}
	return StatusSent
}

// Render annotates msgs, already in display order, for localUser. A date
// header appears whenever a message's calendar day in loc differs from
// the previous message's.
func Render(msgs []remote.Message, localUser string, loc *time.Location) []Row {
	if loc == nil {
		loc = time.Local
	}
	rows := make([]Row, len(msgs))
	for i, m := range msgs {
		local := m.CreatedAt.In(loc)
		row := Row{
			Message: m,
			Own:     m.ProfileID == localUser,
			Time:    local.Format(timeLayout),
		}
		if row.Own {
			row.Status = StatusOf(m)
		}
		if i == 0 {
			row.DateHeader = local.Format(dateLayout)
		} else {
			prev := msgs[i-1]
			if !sameDay(prev.CreatedAt.In(loc), local) {
				row.DateHeader = local.Format(dateLayout)
			}
			row.Consecutive = prev.ProfileID == m.ProfileID &&
				row.Own &&
				m.CreatedAt.Sub(prev.CreatedAt) < ConsecutiveGap
		}
		rows[i] = row
	}
	return rows
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
