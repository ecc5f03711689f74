package market

import (
	"fmt"
	"time"

	"paymesh/internal/domain"
)

type openingHours struct {
	open    int
	close   int
	weekend map[time.Weekday]bool
}

func parseHours(h domain.BusinessHours) (openingHours, error) {
	open, err := parseClock(h.Open)
	if err != nil {
		return openingHours{}, fmt.Errorf("open: %w", err)
	}
	closing, err := parseClock(h.Close)
	if err != nil {
		return openingHours{}, fmt.Errorf("close: %w", err)
	}

	weekend := make(map[time.Weekday]bool, len(h.WeekendDays))
	for _, d := range h.WeekendDays {
		if d < time.Sunday || d > time.Saturday {
			return openingHours{}, fmt.Errorf("invalid weekday %d", d)
		}
		weekend[d] = true
	}
	return openingHours{open: open, close: closing, weekend: weekend}, nil
}

// parseClock returns minutes since midnight for "HH:MM".
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// IsOpenNow evaluates now in the market's timezone. A close time earlier than
// the open time wraps past midnight; the weekend check uses the day the
// session started on.
func (r *Registry) IsOpenNow(marketID string, now time.Time) (bool, error) {
	m, err := r.Market(marketID)
	if err != nil {
		return false, err
	}

	r.mu.RLock()
	loc := r.locations[m.ID]
	h := r.hours[m.ID]
	r.mu.RUnlock()

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	switch {
	case h.open == h.close:
		return !h.weekend[local.Weekday()], nil
	case h.open < h.close:
		return !h.weekend[local.Weekday()] && minute >= h.open && minute < h.close, nil
	case minute >= h.open:
		return !h.weekend[local.Weekday()], nil
	case minute < h.close:
		return !h.weekend[local.AddDate(0, 0, -1).Weekday()], nil
	}
	return false, nil
}
