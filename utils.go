package tracker

import (
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// GenerateHash is the domain hash function of ga.js. An empty string hashes
// to 1.
func GenerateHash(s string) int {
	if s == "" {
		return 1
	}

	hash := 0
	for pos := len(s) - 1; pos >= 0; pos-- {
		c := int(s[pos])
		hash = ((hash << 6) & 0xfffffff) + c + (c << 14)
		if leftMost7 := hash & 0xfe00000; leftMost7 != 0 {
			hash ^= leftMost7 >> 21
		}
	}
	return hash
}

// Generate32bitRandom returns a random non-negative 31-bit integer, the
// range ga.js uses for request and session ids.
func Generate32bitRandom() int {
	return int(rand.Int32())
}

const upperhex = "0123456789ABCDEF"

// EncodeURIComponent escapes s like JavaScript's encodeURIComponent: every
// byte except letters, digits and -_.!~*'() is percent-encoded.
func EncodeURIComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if shouldKeep(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func shouldKeep(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

// AnonymizeIP zeroes the last dotted-decimal block of ip. Addresses without
// a dot are returned unchanged.
func AnonymizeIP(ip string) string {
	i := strings.LastIndexByte(ip, '.')
	if i < 0 {
		return ip
	}
	return ip[:i] + ".0"
}

// TimeToUnix renders t the way cookie values carry timestamps.
func TimeToUnix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func unixToTime(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0), nil
}

// IPFromRequest returns the client address, preferring the first entry of
// the given headers. A non-empty force value always wins.
func IPFromRequest(headers []string, r *http.Request, force string) (net.IP, error) {
	if force != "" {
		if ip := net.ParseIP(force); ip != nil {
			return ip, nil
		}
		return nil, errors.New("invalid forced IP: " + force)
	}

	for _, h := range headers {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		first, _, _ := strings.Cut(v, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip, nil
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, errors.New("no valid IP in request: " + r.RemoteAddr)
	}
	return ip, nil
}
