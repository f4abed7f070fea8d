package schedule

import (
	"context"
	"time"

	"github.com/tahmid-hasan/schedly/internal/model"
)

type dayLister interface {
	ListBusinessDay(ctx context.Context, businessID string, day time.Time) ([]model.Appointment, error)
}

// Checker answers whether a candidate interval collides with an existing
// non-cancelled appointment for a business day. The store enforces the same
// predicate again under its own serialization, so a stale answer here can
// only cause a spurious retry, never a double booking.
type Checker struct {
	store dayLister
}

func NewChecker(store dayLister) *Checker {
	return &Checker{store: store}
}

// HasConflict short-circuits on the first overlap. excludeID skips one
// appointment, used when rescheduling an existing entry.
func (c *Checker) HasConflict(ctx context.Context, businessID string, day time.Time, start, end model.ClockTime, excludeID string) (bool, error) {
	appts, err := c.store.ListBusinessDay(ctx, businessID, model.Day(day))
	if err != nil {
		return false, err
	}
	for _, a := range appts {
		if a.Status == model.StatusCancelled {
			continue
		}
		if excludeID != "" && a.ID == excludeID {
			continue
		}
		if overlaps(a.Start, a.End, start, end) {
			return true, nil
		}
	}
	return false, nil
}

// Half-open intervals: [aStart,aEnd) overlaps [bStart,bEnd) iff
// aStart < bEnd && bStart < aEnd. Touching endpoints do not conflict.
func overlaps(aStart, aEnd, bStart, bEnd model.ClockTime) bool {
	return aStart < bEnd && bStart < aEnd
}
