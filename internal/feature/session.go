package feature

import (
	"strconv"
	"time"

	"elbetl/internal/types"
)

// sessionize partitions each IP's records into bounded-gap sessions. Input
// must be sorted by (client IP, time). The first record of an IP has an
// implicit zero delta, so it always belongs to session 0; a gap strictly
// greater than sessionGap starts a new session. Session numbers are per-IP,
// 0-based and monotonically increasing.
func sessionize(records []*types.EnrichedRecord, sessionGap time.Duration) {
	var (
		prevIP   string
		prevTime time.Time
		session  int
	)
	for i, r := range records {
		if i == 0 || r.ClientIP != prevIP {
			session = 0
		} else if r.Time.Sub(prevTime) > sessionGap {
			session++
		}
		r.SessionNumber = session
		r.SessionID = r.ClientIP + "_s" + strconv.Itoa(session)

		prevIP = r.ClientIP
		prevTime = r.Time
	}
}
