package types

import "time"

// SlotAt returns the production slot t falls into.
func SlotAt(t time.Time, interval time.Duration) int64 {
	return t.UnixNano() / int64(interval)
}

// SlotTime returns the start of slot.
func SlotTime(slot int64, interval time.Duration) time.Time {
	return time.Unix(0, slot*int64(interval)).UTC()
}
