package tracker

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Visitor describes the browser the requests are sent on behalf of.
type Visitor struct {
	// UniqueID is generated on first use when zero.
	UniqueID  int
	IPAddress string
	// Locale such as "de_DE" or "en-us".
	Locale    string
	UserAgent string

	ScreenResolution string
	ScreenColorDepth int
	FlashVersion     string
	// JavaEnabled is optional; nil omits utmje.
	JavaEnabled *bool

	FirstVisitTime    time.Time
	PreviousVisitTime time.Time
	CurrentVisitTime  time.Time
	VisitCount        int
}

func NewVisitor() *Visitor {
	now := time.Now()
	return &Visitor{
		FirstVisitTime:    now,
		PreviousVisitTime: now,
		CurrentVisitTime:  now,
		VisitCount:        1,
	}
}

// VisitorFromUtma restores a visitor from a __utma cookie value
// ("domainHash.uniqueId.firstVisit.previousVisit.currentVisit.visitCount").
func VisitorFromUtma(value string) (*Visitor, error) {
	parts := strings.Split(value, ".")
	if len(parts) != 6 {
		return nil, validationErrorf("VisitorFromUtma", "expected 6 fields in %q", value)
	}

	nums := make([]int64, 5)
	for i, s := range parts[1:] {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, validationErrorf("VisitorFromUtma", "invalid field %q", s)
		}
		nums[i] = n
	}

	return &Visitor{
		UniqueID:          int(nums[0]),
		FirstVisitTime:    time.Unix(nums[1], 0),
		PreviousVisitTime: time.Unix(nums[2], 0),
		CurrentVisitTime:  time.Unix(nums[3], 0),
		VisitCount:        int(nums[4]),
	}, nil
}

var ipHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

// FromRequest fills IP address, user agent and locale from an incoming
// request.
func (v *Visitor) FromRequest(r *http.Request, forceIP string) {
	if ip, err := IPFromRequest(ipHeaders, r, forceIP); err == nil {
		v.IPAddress = ip.String()
	}
	if ua := r.UserAgent(); ua != "" {
		v.UserAgent = ua
	}
	if lang := r.Header.Get("Accept-Language"); lang != "" {
		first, _, _ := strings.Cut(lang, ",")
		first, _, _ = strings.Cut(first, ";")
		v.Locale = strings.TrimSpace(first)
	}
}

// AddSession makes s the current visit unless it already is. Times compare
// at the one-second resolution the cookies carry.
func (v *Visitor) AddSession(s *Session) {
	if s.StartTime.Unix() == v.CurrentVisitTime.Unix() {
		return
	}
	v.PreviousVisitTime = v.CurrentVisitTime
	v.CurrentVisitTime = s.StartTime
	v.VisitCount++
}

// GenerateUniqueID derives a new id from the browser fingerprint.
func (v *Visitor) GenerateUniqueID() int {
	fingerprint := v.UserAgent + v.ScreenResolution
	if v.ScreenColorDepth != 0 {
		fingerprint += strconv.Itoa(v.ScreenColorDepth)
	}
	return (Generate32bitRandom() ^ GenerateHash(fingerprint)) & 0x7fffffff
}

func (v *Visitor) uniqueID() int {
	if v.UniqueID == 0 {
		v.UniqueID = v.GenerateUniqueID()
	}
	return v.UniqueID
}

func (v *Visitor) locale() string {
	return strings.ToLower(strings.ReplaceAll(v.Locale, "_", "-"))
}
