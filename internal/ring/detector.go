// Package ring derives the doorbell state from successive call snapshots.
package ring

import (
	"time"

	"github.com/micro-ha/intercom-bridge/addon/internal/model"
)

// Timeout is how long the doorbell stays active after the call has left
// the ringing state without re-entering it.
const Timeout = 30 * time.Second

// Detect computes the next ring state from the previous and current call
// snapshots. It is a pure function: all time handling goes through now.
//
// A rising edge into "ringing" activates the doorbell and stamps lastRing.
// While the state stays "ringing" the doorbell stays active with the
// original stamp. After the call leaves "ringing" the doorbell stays
// active until Timeout has elapsed since lastRing.
func Detect(prev, cur model.CallStatus, prevActive bool, lastRing time.Time, now time.Time) (active bool, ringTime time.Time) {
	if cur.Ringing() {
		if !prev.Ringing() {
			return true, now
		}
		return true, lastRing
	}

	if prevActive && !lastRing.IsZero() && now.Sub(lastRing) <= Timeout {
		return true, lastRing
	}
	return false, lastRing
}

// RisingEdge reports whether the transition between two snapshots is the
// moment the doorbell was pressed.
func RisingEdge(prev, cur model.CallStatus) bool {
	return cur.Ringing() && !prev.Ringing()
}
