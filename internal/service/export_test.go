package service

import "time"

// PinClock freezes the service clock at t and returns a restore func.
func PinClock(t time.Time) func() {
	prev := opsNow
	opsNow = func() time.Time { return t }
	return func() { opsNow = prev }
}
