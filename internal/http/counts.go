package http

import (
	"time"

	"github.com/fyrsmithlabs/deadlined/internal/deadline"
)

// CountByStatus tallies deadlines by status. A deadline that is not done
// and whose due instant is before now is also counted as overdue.
func CountByStatus(deadlines []deadline.Deadline, now time.Time) StatusCounts {
	var c StatusCounts
	for _, d := range deadlines {
		switch d.Status {
		case deadline.StatusPending:
			c.Pending++
		case deadline.StatusConfirmed:
			c.Confirmed++
		case deadline.StatusDone:
			c.Done++
			continue
		}
		if d.DueAt.Before(now) {
			c.Overdue++
		}
	}
	return c
}
