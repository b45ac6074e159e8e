package volatility

import "time"

// ResolveUnderlying picks the futures price for an option expiring at target:
// the nearest expiry on or after target, or, when every future has already
// expired relative to target, the latest one available. ok is false only
// when futures is empty.
func ResolveUnderlying(target time.Time, futures []UnderlyingQuote) (price float64, ok bool) {
	if len(futures) == 0 {
		return 0, false
	}
	day := Day(target)

	next, last := -1, 0
	for i, f := range futures {
		exp := Day(f.Expiry)
		if !exp.Before(day) && (next < 0 || exp.Before(Day(futures[next].Expiry))) {
			next = i
		}
		if exp.After(Day(futures[last].Expiry)) {
			last = i
		}
	}
	if next >= 0 {
		return futures[next].LastPrice, true
	}
	return futures[last].LastPrice, true
}

// Day truncates t to its calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts whole calendar days from from to to.
func DaysBetween(from, to time.Time) int {
	return int(Day(to).Sub(Day(from)).Hours() / 24)
}
