package faststore

import (
	"strconv"
	"time"
)

func secondsToDuration(s int64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

// formatScore renders a float score for ZRANGEBYSCORE, using the
// "+inf"/"-inf" sentinels go-redis expects for unbounded ranges.
func formatScore(v float64) string {
	switch {
	case v == posInf:
		return "+inf"
	case v == negInf:
		return "-inf"
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}

const (
	posInf = 1<<63 - 1
	negInf = -(1 << 63)
)

// PosInf and NegInf are the unbounded range endpoints for
// SortedSetRangeByScore.
const (
	PosInf float64 = posInf
	NegInf float64 = negInf
)
