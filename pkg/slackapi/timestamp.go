package slackapi

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Slack timestamps are strings like "1726000000.123456": unix seconds plus
// microseconds. They serve as both message ID and ordering key.

// FormatTS renders t as a platform timestamp string.
func FormatTS(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

// CompareTS orders two timestamp strings numerically, falling back to
// lexical comparison when either side does not parse.
func CompareTS(a, b string) int {
	as, am, aok := parseTS(a)
	bs, bm, bok := parseTS(b)
	if !aok || !bok {
		return strings.Compare(a, b)
	}
	if as != bs {
		if as < bs {
			return -1
		}
		return 1
	}
	if am != bm {
		if am < bm {
			return -1
		}
		return 1
	}
	return 0
}

func parseTS(s string) (sec, micro int64, ok bool) {
	whole, frac, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if frac == "" {
		return sec, 0, true
	}
	// Normalize the fraction to six digits.
	if len(frac) > 6 {
		frac = frac[:6]
	}
	for len(frac) < 6 {
		frac += "0"
	}
	micro, err = strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return sec, micro, true
}
