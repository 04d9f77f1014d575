package tracker

import (
	"strconv"
	"strings"
	"time"
)

// Session counts the requests fired within one visit. It is not safe for
// concurrent use; callers serialize tracking calls per session.
type Session struct {
	ID         int
	StartTime  time.Time
	TrackCount int
}

func NewSession() *Session {
	return &Session{
		ID:        Generate32bitRandom(),
		StartTime: time.Now(),
	}
}

// SessionFromUtmb restores a session from a __utmb cookie value
// ("domainHash.trackCount.token.startTime"). The session id is not part of
// the cookie and is generated anew.
func SessionFromUtmb(value string) (*Session, error) {
	parts := strings.Split(value, ".")
	if len(parts) != 4 {
		return nil, validationErrorf("SessionFromUtmb", "expected 4 fields in %q", value)
	}
	count, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, validationErrorf("SessionFromUtmb", "invalid track count %q", parts[1])
	}
	start, err := unixToTime(parts[3])
	if err != nil {
		return nil, validationErrorf("SessionFromUtmb", "invalid start time %q", parts[3])
	}
	return &Session{
		ID:         Generate32bitRandom(),
		StartTime:  start,
		TrackCount: count,
	}, nil
}

func (s *Session) increaseTrackCount() {
	s.TrackCount++
}
