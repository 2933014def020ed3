package raffle

import "time"

type roundClock struct {
	round *Round
}

func (c roundClock) elapsedSince(now time.Time) time.Duration {
	return now.Sub(c.round.LastTimestamp)
}

func (c roundClock) intervalElapsed(now time.Time) bool {
	return c.elapsedSince(now) >= c.round.Interval
}

func (c roundClock) reset(now time.Time) {
	c.round.LastTimestamp = now
}
